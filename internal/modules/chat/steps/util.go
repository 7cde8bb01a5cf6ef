package steps

import (
	"encoding/json"
	"strings"

	"github.com/yungbote/chorus-backend/internal/domain/chat"
	"github.com/yungbote/chorus-backend/internal/inference/engine"
)

func trimToChars(s string, n int) string {
	s = strings.TrimSpace(s)
	if s == "" || n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "…"
}

func toUsage(u *engine.Usage) *chat.Usage {
	if u == nil {
		return nil
	}
	return &chat.Usage{
		InputTokens:     u.InputTokens,
		OutputTokens:    u.OutputTokens,
		TotalTokens:     u.TotalTokens,
		ReasoningTokens: u.ReasoningTokens,
	}
}

// toModelMessages renders the system prompt and conversation as engine messages.
// Tool invocations without a result are dropped.
func toModelMessages(system string, history []*chat.Message, incoming *chat.Message) []engine.Message {
	out := []engine.Message{}
	if strings.TrimSpace(system) != "" {
		out = append(out, engine.Message{Role: "system", Content: system})
	}
	for _, m := range history {
		if m == nil || (incoming != nil && m.ID == incoming.ID) {
			continue
		}
		out = append(out, messageToModel(m)...)
	}
	if incoming != nil {
		out = append(out, messageToModel(incoming)...)
	}
	return out
}

func messageToModel(m *chat.Message) []engine.Message {
	switch m.Role {
	case chat.RoleAssistant:
		return assistantToModel(m.Parts)
	case chat.RoleSystem:
		if text := joinText(m.Parts); text != "" {
			return []engine.Message{{Role: "system", Content: text}}
		}
		return nil
	default:
		msg := engine.Message{Role: "user", Content: joinText(m.Parts)}
		for _, p := range m.Parts {
			if p.Type == chat.PartFile && p.URL != "" {
				msg.Files = append(msg.Files, engine.File{URL: p.URL, MediaType: p.MediaType, Filename: p.Filename})
			}
			if p.Type == chat.PartSourceURL && p.URL != "" {
				msg.Content = strings.TrimSpace(msg.Content + "\n\nSource: " + p.URL)
			}
		}
		if msg.Content == "" && len(msg.Files) == 0 {
			return nil
		}
		return []engine.Message{msg}
	}
}

// assistantToModel splits an assistant message at tool boundaries: text and the
// tool calls that follow it form one assistant message, followed by the results.
func assistantToModel(parts []chat.Part) []engine.Message {
	var (
		out     []engine.Message
		cur     engine.Message
		results []engine.Message
	)
	flush := func() {
		if cur.Content != "" || len(cur.ToolCalls) > 0 {
			cur.Role = "assistant"
			out = append(out, cur)
			out = append(out, results...)
		}
		cur = engine.Message{}
		results = nil
	}
	for _, p := range parts {
		switch {
		case p.Type == chat.PartText:
			if len(cur.ToolCalls) > 0 {
				flush()
			}
			if cur.Content != "" {
				cur.Content += "\n\n"
			}
			cur.Content += p.Text
		case p.Resolved():
			args := p.Input
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			cur.ToolCalls = append(cur.ToolCalls, engine.ToolCall{ID: p.ToolCallID, Name: p.ToolName, Arguments: args})
			results = append(results, engine.Message{Role: "tool", ToolCallID: p.ToolCallID, Content: toolResultText(p)})
		}
	}
	flush()
	return out
}

func toolResultText(p chat.Part) string {
	if p.State == chat.ToolOutputError {
		b, _ := json.Marshal(map[string]string{"error": p.ErrorText})
		return string(b)
	}
	if len(p.Output) == 0 {
		return "null"
	}
	return string(p.Output)
}

func joinText(parts []chat.Part) string {
	var texts []string
	for _, p := range parts {
		if p.Type == chat.PartText && strings.TrimSpace(p.Text) != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n\n")
}
