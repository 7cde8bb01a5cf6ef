package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	TransportStreamableHTTP = "http"
	TransportSSE            = "sse"
)

// McpServer is a remote tool server registered by a user.
type McpServer struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Name      string                                `gorm:"column:name;not null" json:"name"`
	URL       string                                `gorm:"column:url;not null" json:"url"`
	Transport string                                `gorm:"column:transport;not null;default:'http'" json:"transport"`
	Headers   datatypes.JSONType[map[string]string] `gorm:"column:headers" json:"-"`
	Enabled   bool                                  `gorm:"column:enabled;not null;default:true" json:"enabled"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (McpServer) TableName() string { return "chat_mcp_server" }

// McpServerCustomization is a user's extra instruction appended to the system prompt
// whenever tools of that server are available.
type McpServerCustomization struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ServerID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_mcp_custom_server_user,priority:1" json:"server_id"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_mcp_custom_server_user,priority:2" json:"user_id"`
	Prompt   string    `gorm:"column:prompt;type:text;not null;default:''" json:"prompt"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (McpServerCustomization) TableName() string { return "chat_mcp_server_customization" }
