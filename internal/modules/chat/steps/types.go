package steps

import (
	"github.com/google/uuid"

	"github.com/yungbote/chorus-backend/internal/domain/chat"
)

// ChatRequest is one inbound turn.
type ChatRequest struct {
	ThreadID   uuid.UUID       `json:"id"`
	Message    *chat.Message   `json:"message"`
	ChatModel  *chat.ModelRef  `json:"chatModel,omitempty"`
	ToolChoice chat.ToolChoice `json:"toolChoice"`

	AllowedAppDefaultToolkit []string                      `json:"allowedAppDefaultToolkit,omitempty"`
	AllowedMcpServers        map[string]chat.AllowedServer `json:"allowedMcpServers,omitempty"`
	ImageTool                *chat.ImageToolOption         `json:"imageTool,omitempty"`

	Mentions    []chat.Mention    `json:"mentions"`
	Attachments []chat.Attachment `json:"attachments"`
}

const (
	// HeaderConversationID carries the provider correlation id between turns.
	HeaderConversationID = "X-Conversation-Id"

	metaConversationID = "conversationId"

	DefaultMaxSteps     = 10
	DefaultHistoryLimit = 100
)
