package generator

import (
	"fmt"
	"strings"

	"github.com/danilop/ai-doc-read-studio/internal/session"
)

const moderatorInstructions = `You are %s, the moderator of a document review team. The other members have just responded to the latest prompt. Your job is to synthesize their feedback, not to add a review of your own.

Responsibilities:
1. Conflicts: find recommendations that contradict each other and suggest how to resolve them, or say when both sides have merit.
2. Synergies: find points that several members raised or that reinforce each other and merge them into stronger recommendations.
3. Questions: collect every clarification question the members asked ("### 🤔 Clarification Questions"), group related ones and note who asked and why it matters.
4. Synthesis: give concrete next steps that account for all input, always naming which members contributed each point.
If a member could not respond, say so briefly and work with the responses you have.

Structure your answer exactly like this:

## Cross-Team Analysis

### 🔴 Conflicts Identified

### 🟢 Synergies Found

### 🤔 Consolidated Questions for Clarification

### 📋 Synthesized Recommendations

Be diplomatic but clear.`

const reviewerInstructions = `You are %s, a member of a team reviewing documents together.

Your role: %s

Instructions:
1. Analyze every document from the perspective of your role.
2. Give constructive feedback on how to improve each document: strengths, weaknesses and specific changes.
3. Always name the file you are referring to (for example "In plan.md, the rollout section...").
4. Read the conversation history, build on what others said, and agree, disagree or extend their points.
5. Do not repeat what others already covered; add what your expertise uniquely brings.
6. Point out gaps, overlaps and inconsistencies between documents.
7. When answering a follow-up question, address it directly.
8. Keep it to two or three paragraphs. Markdown is welcome.

If the purpose, audience or reasoning behind something is unclear, ask:
### 🤔 Clarification Questions
- **Question 1**: ...

The moderator will consolidate these questions for the user.`

const templateAddendum = `Additional instructions:
- Always name the specific file when referencing content or proposing changes.
- Read the conversation history and build on previous points.
- Markdown is welcome. Keep responses focused and actionable.`

const actionPlanInstructions = `You are an experienced project manager turning a document review into an action plan.

Write a prioritized markdown summary that consolidates every suggestion in <all_suggestions>:
1. Open with a short overview of the documents reviewed.
2. List between 10 and 25 numbered action items, each specific, measurable and implementable.
3. Mark priority on each item: 🔴 Critical, 🟡 Important, 🟢 Nice to Have.
4. Merge related suggestions so nothing is listed twice.
5. Under each item add "**Stakeholders**: [Role A, Role B]" using the roles (not names) that raised or support it.
6. Reference specific files where relevant.
7. Close with a brief suggested implementation timeline.

Example item:
1. 🔴 **Add an executive summary to ` + "`project_plan.md`" + `**
   - Two or three paragraphs on objectives, timeline and expected outcomes
   - **Stakeholders**: [Product Strategy, Technical Architecture]`

func systemPrompt(t Task) string {
	switch t.Kind {
	case KindModerator:
		return fmt.Sprintf(moderatorInstructions, t.Persona.Name)
	case KindActionPlan:
		return actionPlanInstructions
	}
	if t.Persona.SystemPrompt != "" {
		return strings.TrimSpace(t.Persona.SystemPrompt) + "\n\n" + templateAddendum
	}
	return fmt.Sprintf(reviewerInstructions, t.Persona.Name, t.Persona.Role)
}

// renderDocuments wraps each document in a <document filename="..."> block.
func renderDocuments(docs []DocumentText) string {
	var b strings.Builder
	for i, d := range docs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "<document filename=%q>\n%s\n</document>", d.Filename, d.Text)
	}
	return b.String()
}

// renderHistory renders the conversation with the current prompt marked. When
// the latest user message is the prompt itself it is tagged in place, so
// responses already given in this turn stay after it; otherwise the prompt
// is appended at the end.
func renderHistory(conv []session.Message, prompt string) string {
	trigger := -1
	if prompt != "" {
		for i := len(conv) - 1; i >= 0; i-- {
			if um, ok := conv[i].(session.UserMessage); ok {
				if um.Content == prompt {
					trigger = i
				}
				break
			}
		}
	}

	var b strings.Builder
	b.WriteString("<conversation_history>\n")
	for i, m := range conv {
		switch m := m.(type) {
		case session.UserMessage:
			if i == trigger {
				fmt.Fprintf(&b, "<current_user_prompt>%s</current_user_prompt>\n", m.Content)
				continue
			}
			fmt.Fprintf(&b, "<user_message>%s</user_message>\n", m.Content)
		case session.AgentMessage:
			fmt.Fprintf(&b, "<agent_message agent='%s' role='%s'>%s</agent_message>\n", m.AgentName, m.Role, m.Content)
		case session.SystemMessage:
			if m.AgentName != "" {
				fmt.Fprintf(&b, "<system_message agent='%s'>%s</system_message>\n", m.AgentName, m.Content)
			} else {
				fmt.Fprintf(&b, "<system_message>%s</system_message>\n", m.Content)
			}
		}
	}
	if prompt != "" && trigger < 0 {
		fmt.Fprintf(&b, "<current_user_prompt>%s</current_user_prompt>\n", prompt)
	}
	b.WriteString("</conversation_history>")
	return b.String()
}

// renderSuggestions lists every agent message as a numbered suggestion.
func renderSuggestions(conv []session.Message) string {
	var b strings.Builder
	b.WriteString("<all_suggestions>\n")
	n := 0
	for _, m := range conv {
		am, ok := m.(session.AgentMessage)
		if !ok {
			continue
		}
		n++
		fmt.Fprintf(&b, "<suggestion_%d from='%s' role='%s'>\n%s\n</suggestion_%d>\n\n", n, am.AgentName, am.Role, am.Content, n)
	}
	b.WriteString("</all_suggestions>")
	return b.String()
}

func contextBlock(t Task) string {
	var b strings.Builder
	b.WriteString("DOCUMENTS TO REVIEW:\n")
	b.WriteString(renderDocuments(t.Documents))
	b.WriteString("\n\n")
	if t.Kind == KindActionPlan {
		b.WriteString("ALL TEAM SUGGESTIONS:\n")
		b.WriteString(renderSuggestions(t.Conversation))
		return b.String()
	}
	b.WriteString("CONVERSATION CONTEXT:\n")
	b.WriteString(renderHistory(t.Conversation, t.Prompt))
	return b.String()
}

func directive(t Task) string {
	switch t.Kind {
	case KindModerator:
		return fmt.Sprintf("Current discussion prompt: %s\n\nSynthesize the team's responses to this prompt as %s. Start with \"## Cross-Team Analysis\".", t.Prompt, t.Persona.Name)
	case KindActionPlan:
		return "Create the actionable summary now."
	default:
		return fmt.Sprintf("Current discussion prompt: %s\n\nPlease provide your perspective on this document and the current discussion from your role as %s.\nFocus on actionable feedback and insights specific to your expertise.", t.Prompt, t.Persona.Role)
	}
}
