package uistream

import (
	"encoding/json"
	"strings"

	"github.com/yungbote/chorus-backend/internal/domain/chat"
)

type Type string

const (
	TypeTextStart           Type = "text-start"
	TypeTextDelta           Type = "text-delta"
	TypeTextEnd             Type = "text-end"
	TypeReasoningStart      Type = "reasoning-start"
	TypeReasoningDelta      Type = "reasoning-delta"
	TypeReasoningEnd        Type = "reasoning-end"
	TypeToolInputStart      Type = "tool-input-start"
	TypeToolInputDelta      Type = "tool-input-delta"
	TypeToolInputAvailable  Type = "tool-input-available"
	TypeToolOutputAvailable Type = "tool-output-available"
	TypeToolOutputError     Type = "tool-output-error"
	TypeStepStart           Type = "step-start"
	TypeFinishStep          Type = "finish-step"
	TypeFinish              Type = "finish"
	TypeError               Type = "error"
	TypeFile                Type = "file"
	TypeSourceURL           Type = "source-url"

	TypeAgentTag    Type = "data-agent-tag"
	TypeAgentFinish Type = "data-agent-finish"
)

// IsTool reports the "tool-" family.
func (t Type) IsTool() bool { return strings.HasPrefix(string(t), "tool-") }

// Event is one frame of the outbound stream. Block events carry ID, tool events carry ToolCallID.
type Event struct {
	Type Type   `json:"type"`
	ID   string `json:"id,omitempty"`

	Delta string `json:"delta,omitempty"`

	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorText  string          `json:"errorText,omitempty"`

	FinishReason     string                    `json:"finishReason,omitempty"`
	Usage            *chat.Usage               `json:"usage,omitempty"`
	ProviderMetadata map[string]map[string]any `json:"providerMetadata,omitempty"`
	MessageMetadata  map[string]any            `json:"messageMetadata,omitempty"`
	ConversationID   string                    `json:"conversationId,omitempty"`

	URL       string `json:"url,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
	SourceID  string `json:"sourceId,omitempty"`
	Title     string `json:"title,omitempty"`

	Tag    *AgentTag    `json:"-"`
	Finish *AgentFinish `json:"-"`
}

type AgentTag struct {
	AgentID    string `json:"agentId"`
	AgentName  string `json:"agentName"`
	BlockID    string `json:"blockId,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
	Kind       Type   `json:"kind"`
}

type AgentFinish struct {
	AgentID   string      `json:"agentId"`
	AgentName string      `json:"agentName"`
	Usage     *chat.Usage `json:"usage,omitempty"`
}

type eventAlias Event

// MarshalJSON nests tag and finish payloads under "data", the shape of data-* events.
func (e Event) MarshalJSON() ([]byte, error) {
	var data any
	switch {
	case e.Tag != nil:
		data = e.Tag
	case e.Finish != nil:
		data = e.Finish
	}
	return json.Marshal(struct {
		eventAlias
		Data any `json:"data,omitempty"`
	}{eventAlias: eventAlias(e), Data: data})
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var raw struct {
		eventAlias
		Data json.RawMessage `json:"data,omitempty"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*e = Event(raw.eventAlias)
	if len(raw.Data) == 0 {
		return nil
	}
	switch e.Type {
	case TypeAgentTag:
		e.Tag = &AgentTag{}
		return json.Unmarshal(raw.Data, e.Tag)
	case TypeAgentFinish:
		e.Finish = &AgentFinish{}
		return json.Unmarshal(raw.Data, e.Finish)
	}
	return nil
}

func ErrorEvent(text string) Event {
	return Event{Type: TypeError, ErrorText: text}
}
