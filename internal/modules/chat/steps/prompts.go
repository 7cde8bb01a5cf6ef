package steps

import (
	"strings"
	"time"

	"github.com/yungbote/chorus-backend/internal/domain/chat"
)

type promptInput struct {
	Preferences  chat.Preferences
	Agent        *chat.Agent
	Customs      []string
	NoToolCalls  bool
	ApprovalMode bool
	Now          time.Time
}

func systemPrompt(in promptInput) string {
	var b strings.Builder
	name := "Chorus"
	if in.Preferences.BotName != "" {
		name = in.Preferences.BotName
	}
	if in.Agent != nil && in.Agent.Name != "" {
		name = in.Agent.Name
	}
	b.WriteString("You are " + name + ", a helpful assistant.")
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	b.WriteString(" The current date is " + now.UTC().Format("2006-01-02") + ".")

	if in.Agent != nil && strings.TrimSpace(in.Agent.Instructions) != "" {
		b.WriteString("\n\n<agent_instructions>\n" + strings.TrimSpace(in.Agent.Instructions) + "\n</agent_instructions>")
	}

	p := in.Preferences
	if !p.IsZero() {
		b.WriteString("\n\n<user_preferences>")
		if p.DisplayName != "" {
			b.WriteString("\nThe user's name is " + p.DisplayName + ".")
		}
		if p.Profession != "" {
			b.WriteString("\nThe user works as " + p.Profession + ".")
		}
		if p.ResponseStyle != "" {
			b.WriteString("\nPreferred response style: " + p.ResponseStyle + ".")
		}
		b.WriteString("\n</user_preferences>")
	}

	for _, c := range in.Customs {
		b.WriteString("\n\n<tool_server_notes>\n" + c + "\n</tool_server_notes>")
	}
	if in.ApprovalMode {
		b.WriteString("\n\nTool calls are reviewed by the user before they run. Call tools only when they are needed.")
	}
	if in.NoToolCalls {
		b.WriteString("\n\nYou cannot call tools in this conversation. If a request needs a tool, explain what you would do instead.")
	}
	return b.String()
}

func titlePrompt(firstMessage string) (system string, user string) {
	system = `Write a short title (at most 6 words) for a conversation that starts with the message below.
Return only the title, without quotes or trailing punctuation.`
	user = trimToChars(firstMessage, 2000)
	return system, user
}
