package generator

import (
	"strings"
	"testing"

	"github.com/danilop/ai-doc-read-studio/internal/persona"
	"github.com/danilop/ai-doc-read-studio/internal/session"
)

func TestContextBlock_Discussion(t *testing.T) {
	task := Task{
		Kind:    KindDiscussion,
		Persona: techLead,
		Documents: []DocumentText{
			{Filename: "plan.md", Text: "# Plan"},
			{Filename: "api.txt", Text: "GET /x"},
		},
		Conversation: []session.Message{
			session.UserMessage{Content: "Review this."},
			session.AgentMessage{AgentName: "Product Manager", Role: "Strategy", Content: "Needs goals."},
			session.SystemMessage{AgentName: "QA", Content: "QA could not respond"},
		},
		Prompt: "Any blockers?",
	}
	got := contextBlock(task)
	for _, want := range []string{
		"<document filename=\"plan.md\">\n# Plan\n</document>",
		"<document filename=\"api.txt\">",
		"<conversation_history>",
		"<user_message>Review this.</user_message>",
		"<agent_message agent='Product Manager' role='Strategy'>Needs goals.</agent_message>",
		"<system_message agent='QA'>QA could not respond</system_message>",
		"<current_user_prompt>Any blockers?</current_user_prompt>\n</conversation_history>",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("context missing %q", want)
		}
	}
}

func TestRenderHistory_TriggerRenderedOnce(t *testing.T) {
	conv := []session.Message{
		session.UserMessage{Content: "First pass?"},
		session.AgentMessage{AgentName: "Tech Lead", Role: "Architecture", Content: "Looks fine."},
		session.UserMessage{Content: "Check the rollout."},
	}
	got := renderHistory(conv, "Check the rollout.")
	if n := strings.Count(got, "Check the rollout."); n != 1 {
		t.Errorf("prompt rendered %d times, want 1:\n%s", n, got)
	}
	if strings.Contains(got, "<user_message>Check the rollout.</user_message>") {
		t.Errorf("trigger rendered as a plain user message:\n%s", got)
	}
	if !strings.Contains(got, "<user_message>First pass?</user_message>") {
		t.Errorf("earlier prompt missing:\n%s", got)
	}

	// The moderator sees the peers' answers after the prompt they answer.
	conv = append(conv, session.AgentMessage{AgentName: "QA", Role: "Testing", Content: "Add a canary."})
	got = renderHistory(conv, "Check the rollout.")
	prompt := strings.Index(got, "<current_user_prompt>Check the rollout.</current_user_prompt>")
	answer := strings.Index(got, "Add a canary.")
	if prompt < 0 || answer < prompt {
		t.Errorf("current prompt should precede this turn's answers:\n%s", got)
	}
	if strings.Count(got, "Check the rollout.") != 1 {
		t.Errorf("prompt duplicated for moderator:\n%s", got)
	}
}

func TestSystemPrompt(t *testing.T) {
	mod := persona.Persona{Name: "Team Moderator", Role: "Synthesis", IsModerator: true}
	if got := systemPrompt(Task{Kind: KindModerator, Persona: mod}); !strings.Contains(got, "## Cross-Team Analysis") {
		t.Errorf("moderator prompt lacks heading: %q", got)
	}
	if got := systemPrompt(Task{Kind: KindDiscussion, Persona: techLead}); !strings.Contains(got, "Your role: Architecture") {
		t.Errorf("reviewer prompt lacks role")
	}
	custom := techLead
	custom.SystemPrompt = "You are a security auditor."
	got := systemPrompt(Task{Kind: KindDiscussion, Persona: custom})
	if !strings.HasPrefix(got, "You are a security auditor.") || strings.Contains(got, "Your role:") {
		t.Errorf("template prompt not used: %q", got)
	}
	if got := systemPrompt(Task{Kind: KindActionPlan}); !strings.Contains(got, "**Stakeholders**") {
		t.Errorf("action plan prompt lacks stakeholder format")
	}
}

func TestContextBlock_ActionPlan(t *testing.T) {
	task := Task{
		Kind:      KindActionPlan,
		Documents: []DocumentText{{Filename: "plan.md", Text: "# Plan"}},
		Conversation: []session.Message{
			session.UserMessage{Content: "Review this."},
			session.AgentMessage{AgentName: "Tech Lead", Role: "Architecture", Content: "Split the service."},
			session.SystemMessage{Content: "ignored"},
			session.AgentMessage{AgentName: "Team Moderator", Role: "Synthesis", Content: "Agree."},
		},
	}
	got := contextBlock(task)
	if !strings.Contains(got, "<suggestion_1 from='Tech Lead' role='Architecture'>\nSplit the service.\n</suggestion_1>") {
		t.Errorf("suggestion 1 missing: %q", got)
	}
	if !strings.Contains(got, "<suggestion_2 from='Team Moderator'") {
		t.Error("suggestion 2 missing")
	}
	if strings.Contains(got, "ignored") || strings.Contains(got, "<conversation_history>") {
		t.Error("action plan context should list agent suggestions only")
	}
}

func TestDirective(t *testing.T) {
	got := directive(Task{Kind: KindDiscussion, Persona: techLead, Prompt: "Check security"})
	if !strings.HasPrefix(got, "Current discussion prompt: Check security") || !strings.Contains(got, "from your role as Architecture") {
		t.Errorf("directive = %q", got)
	}
}
