// Package export renders sessions and generated content as downloadable files.
package export

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/danilop/ai-doc-read-studio/internal/docstore"
	"github.com/danilop/ai-doc-read-studio/internal/session"
)

// Format is a requested export format. Only markdown is rendered; a PDF
// request is answered with markdown.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatPDF      Format = "pdf"
)

const mediaMarkdown = "text/markdown"

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatMarkdown:
		return FormatMarkdown, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", &session.ValidationError{Field: "format", Reason: fmt.Sprintf("%q is not one of markdown, pdf", s)}
	}
}

// File is a rendered export.
type File struct {
	Name      string
	MediaType string
	Body      []byte
}

// Disposition returns the Content-Disposition header value for f.
func (f File) Disposition() string {
	return fmt.Sprintf("attachment; filename=%q", f.Name)
}

// ConversationFilename is the download name of a session export.
func ConversationFilename(sessionID string) string {
	return "conversation_" + shortID(sessionID) + ".md"
}

// SummaryFilename is the download name of an action plan.
func SummaryFilename(sessionID string) string {
	return "actionable_summary_" + shortID(sessionID) + ".md"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Conversation renders a session export as a markdown download.
func Conversation(snap session.Snapshot, docs []docstore.Document, includeMetadata bool, now time.Time) File {
	return File{
		Name:      ConversationFilename(snap.ID),
		MediaType: mediaMarkdown,
		Body:      []byte(Markdown(snap, docs, includeMetadata, now)),
	}
}

// Content wraps arbitrary markdown, such as an action plan, as a download.
func Content(content, filename string) File {
	name := strings.TrimSpace(filename)
	if name == "" {
		name = "export"
	}
	if !strings.HasSuffix(name, ".md") {
		name += ".md"
	}
	return File{Name: name, MediaType: mediaMarkdown, Body: []byte(content)}
}

// Markdown renders the conversation of snap. docs holds the session's
// documents in order; ids missing from docs are listed as Unknown.
func Markdown(snap session.Snapshot, docs []docstore.Document, includeMetadata bool, now time.Time) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("# AI Document Review Session")
	line("")

	if includeMetadata {
		members := snap.Team.Members()
		line("## Session Information")
		line("")
		line("**Session ID:** %s", snap.ID)
		line("**Created:** %s", snap.CreatedAt.Format(time.RFC3339))
		line("**Documents:** %d", len(snap.DocumentIDs))
		line("**Team Members:** %d", len(members))
		line("")

		if len(snap.DocumentIDs) > 0 {
			names := make(map[string]string, len(docs))
			for _, d := range docs {
				names[d.ID] = d.Filename
			}
			line("### Documents")
			line("")
			for i, id := range snap.DocumentIDs {
				name, ok := names[id]
				if !ok {
					name = "Unknown"
				}
				line("%d. %s", i+1, name)
			}
			line("")
		}

		line("### Team Members")
		line("")
		for i, p := range members {
			line("%d. **%s** - %s (Model: %s)", i+1, p.Name, p.Role, p.Model)
		}
		line("")
		line("---")
		line("")
	}

	line("## Conversation")
	line("")
	for _, m := range snap.Conversation {
		stamp := m.Time().Format("15:04:05")
		switch msg := m.(type) {
		case session.UserMessage:
			line("### 👤 User (%s)", stamp)
			line("")
			line("%s", msg.Content)
			line("")
		case session.AgentMessage:
			header := "### 🤖 " + msg.AgentName
			if msg.Role != "" {
				header += " - " + msg.Role
			}
			if msg.Model != "" {
				header += " (" + msg.Model + ")"
			}
			line("%s (%s)", header, stamp)
			line("")
			line("%s", msg.Content)
			line("")
			if includeMetadata && msg.ResponseTime > 0 {
				line("*Response time: %ss*", seconds(msg.ResponseTime))
				line("")
			}
		case session.SystemMessage:
			header := "### ⚠️ System"
			if msg.AgentName != "" {
				header += " - " + msg.AgentName
			}
			line("%s (%s)", header, stamp)
			line("")
			line("%s", msg.Content)
			line("")
		}
	}

	if includeMetadata {
		line("---")
		line("")
		line("*Exported on %s*", now.Format("2006-01-02 15:04:05"))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(math.Round(d.Seconds()*100)/100, 'f', -1, 64)
}
