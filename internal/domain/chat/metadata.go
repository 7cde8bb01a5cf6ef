package chat

import "gorm.io/datatypes"

type Usage struct {
	InputTokens     int `json:"inputTokens"`
	OutputTokens    int `json:"outputTokens"`
	TotalTokens     int `json:"totalTokens"`
	ReasoningTokens int `json:"reasoningTokens,omitempty"`
}

// Add returns the field-wise sum. A nil receiver or argument counts as zero.
func (u *Usage) Add(o *Usage) *Usage {
	if u == nil && o == nil {
		return nil
	}
	out := &Usage{}
	for _, x := range []*Usage{u, o} {
		if x == nil {
			continue
		}
		out.InputTokens += x.InputTokens
		out.OutputTokens += x.OutputTokens
		out.TotalTokens += x.TotalTokens
		out.ReasoningTokens += x.ReasoningTokens
	}
	return out
}

type ModelRef struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

func (r *ModelRef) IsZero() bool {
	return r == nil || (r.Provider == "" && r.Model == "")
}

func (r ModelRef) String() string {
	if r.Provider == "" {
		return r.Model
	}
	return r.Provider + "/" + r.Model
}

type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceManual   ToolChoice = "manual"
	ToolChoiceApproval ToolChoice = "approval"
)

func (c ToolChoice) Valid() bool {
	switch c {
	case ToolChoiceAuto, ToolChoiceManual, ToolChoiceApproval:
		return true
	}
	return false
}

// Metadata is stored on each message. For merged multi-agent messages the per-agent
// values live in Agents (keyed by agent id) and Usage holds their sum.
type Metadata struct {
	AgentID       string     `json:"agentId,omitempty"`
	AgentName     string     `json:"agentName,omitempty"`
	ToolChoice    ToolChoice `json:"toolChoice,omitempty"`
	ToolCount     int        `json:"toolCount,omitempty"`
	ChatModel     *ModelRef  `json:"chatModel,omitempty"`
	Usage         *Usage     `json:"usage,omitempty"`
	CorrelationID string     `json:"correlationId,omitempty"`
	Failed        bool       `json:"failed,omitempty"`

	Agents map[string]*Metadata `json:"agents,omitempty"`
}

// CorrelationFor returns the correlation id recorded for agentID, looking at the
// per-agent map first and the flat fields second.
func (m Metadata) CorrelationFor(agentID string) string {
	if sub, ok := m.Agents[agentID]; ok && sub != nil && sub.CorrelationID != "" {
		return sub.CorrelationID
	}
	if m.AgentID == agentID {
		return m.CorrelationID
	}
	return ""
}

func NewMetadata(m Metadata) datatypes.JSONType[Metadata] {
	return datatypes.NewJSONType(m)
}
