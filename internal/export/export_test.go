package export

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danilop/ai-doc-read-studio/internal/docstore"
	"github.com/danilop/ai-doc-read-studio/internal/persona"
	"github.com/danilop/ai-doc-read-studio/internal/session"
)

func testSnapshot(t *testing.T) session.Snapshot {
	t.Helper()
	team, err := persona.NewTeam([]persona.Persona{
		{Name: "Alice", Role: "Security reviewer", Model: "nova-lite"},
		{Name: "Team Moderator", Role: "Moderator", Model: "nova-pro", IsModerator: true},
	}, persona.TeamOpts{})
	if err != nil {
		t.Fatalf("NewTeam: %v", err)
	}
	at := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	return session.Snapshot{
		ID:          "0123456789abcdef",
		DocumentIDs: []string{"d1", "d2"},
		Team:        team,
		CreatedAt:   at,
		Conversation: []session.Message{
			session.UserMessage{Content: "Review the plan", At: at},
			session.AgentMessage{AgentName: "Alice", Role: "Security reviewer", Model: "nova-lite", Content: "Add MFA.", At: at.Add(5 * time.Second), ResponseTime: 1234 * time.Millisecond},
			session.SystemMessage{AgentName: "Bob", Content: "Bob could not respond.", At: at.Add(6 * time.Second)},
		},
		Boundaries: []int{0},
		State:      session.StateIdle,
	}
}

func TestMarkdown_WithMetadata(t *testing.T) {
	snap := testSnapshot(t)
	docs := []docstore.Document{{ID: "d1", Filename: "plan.md"}}
	now := time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC)

	md := Markdown(snap, docs, true, now)
	for _, want := range []string{
		"# AI Document Review Session",
		"**Session ID:** 0123456789abcdef",
		"**Documents:** 2",
		"**Team Members:** 2",
		"1. plan.md",
		"2. Unknown",
		"1. **Alice** - Security reviewer (Model: nova-lite)",
		"## Conversation",
		"### 👤 User (09:30:00)",
		"### 🤖 Alice - Security reviewer (nova-lite) (09:30:05)",
		"*Response time: 1.23s*",
		"### ⚠️ System - Bob (09:30:06)",
		"*Exported on 2025-03-02 08:00:00*",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestMarkdown_WithoutMetadata(t *testing.T) {
	md := Markdown(testSnapshot(t), nil, false, time.Now())
	for _, unwanted := range []string{"Session Information", "Response time", "Exported on"} {
		if strings.Contains(md, unwanted) {
			t.Errorf("markdown contains %q without metadata", unwanted)
		}
	}
	if !strings.Contains(md, "Add MFA.") {
		t.Error("conversation content missing")
	}
}

func TestFilenames(t *testing.T) {
	if got := ConversationFilename("0123456789abcdef"); got != "conversation_01234567.md" {
		t.Errorf("ConversationFilename = %q", got)
	}
	if got := SummaryFilename("abc"); got != "actionable_summary_abc.md" {
		t.Errorf("SummaryFilename = %q", got)
	}
	f := Conversation(testSnapshot(t), nil, false, time.Now())
	if f.MediaType != "text/markdown" || f.Disposition() != `attachment; filename="conversation_01234567.md"` {
		t.Errorf("file = %s %s", f.MediaType, f.Disposition())
	}
}

func TestContent(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"plan", "plan.md"},
		{"plan.md", "plan.md"},
		{"  ", "export.md"},
	}
	for _, tt := range tests {
		if got := Content("# Plan", tt.filename).Name; got != tt.want {
			t.Errorf("Content(%q).Name = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("PDF"); err != nil || f != FormatPDF {
		t.Errorf("ParseFormat(PDF) = %q, %v", f, err)
	}
	if _, err := ParseFormat("docx"); !errors.Is(err, session.ErrValidation) {
		t.Errorf("ParseFormat(docx) error = %v, want validation", err)
	}
}
