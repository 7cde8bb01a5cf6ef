package chat

import "encoding/json"

type PartType string

const (
	PartText           PartType = "text"
	PartReasoning      PartType = "reasoning"
	PartToolInvocation PartType = "tool-invocation"
	PartFile           PartType = "file"
	PartSourceURL      PartType = "source-url"
	PartStepStart      PartType = "step-start"
	PartAgentTag       PartType = "agent-tag"
	PartAgentFinish    PartType = "agent-finish"
	PartError          PartType = "error"
)

type ToolState string

const (
	ToolInputStreaming  ToolState = "input-streaming"
	ToolInputAvailable  ToolState = "input-available"
	ToolOutputAvailable ToolState = "output-available"
	ToolOutputError     ToolState = "output-error"
)

// Approval is set by the client on a tool part awaiting confirmation.
type Approval struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// Part is one ordered element of a message. Type selects which fields are meaningful:
//
//	text, reasoning:   ID, Text
//	tool-invocation:   ToolCallID, ToolName, Input, Output, ErrorText, State, Approval
//	file:              URL, MediaType, Filename
//	source-url:        SourceID, URL, Title
//	agent-tag:         ID, AgentID, AgentName, BlockID, ToolCallID, Kind
//	agent-finish:      ID, AgentID, AgentName, Usage
//	error:             ErrorText
type Part struct {
	Type PartType `json:"type"`
	ID   string   `json:"id,omitempty"`
	Text string   `json:"text,omitempty"`

	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorText  string          `json:"errorText,omitempty"`
	State      ToolState       `json:"state,omitempty"`
	Approval   *Approval       `json:"approval,omitempty"`

	URL       string `json:"url,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
	Filename  string `json:"filename,omitempty"`
	SourceID  string `json:"sourceId,omitempty"`
	Title     string `json:"title,omitempty"`

	AgentID   string `json:"agentId,omitempty"`
	AgentName string `json:"agentName,omitempty"`
	BlockID   string `json:"blockId,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Usage     *Usage `json:"usage,omitempty"`
}

func TextPart(text string) Part { return Part{Type: PartText, Text: text} }

// Pending reports a tool invocation whose input is known but which has no result yet.
func (p Part) Pending() bool {
	return p.Type == PartToolInvocation && p.State == ToolInputAvailable
}

func (p Part) Resolved() bool {
	return p.Type == PartToolInvocation && (p.State == ToolOutputAvailable || p.State == ToolOutputError)
}
