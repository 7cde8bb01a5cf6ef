package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message ids are client-assigned and stable; re-upserting an id replaces the row's content.
type Message struct {
	ID       string    `gorm:"type:text;primaryKey" json:"id"`
	ThreadID uuid.UUID `gorm:"type:uuid;not null;index" json:"thread_id"`
	Role     Role      `gorm:"column:role;type:text;not null" json:"role"`

	Parts    datatypes.JSONSlice[Part]    `gorm:"column:parts" json:"parts"`
	Metadata datatypes.JSONType[Metadata] `gorm:"column:metadata" json:"metadata"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Message) TableName() string { return "chat_message" }

// Clone copies the message and its part slice so callers can mutate parts independently.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Parts = append(datatypes.JSONSlice[Part](nil), m.Parts...)
	return &cp
}

// LastText returns the text of the last text part, or "".
func (m *Message) LastText() string {
	if m == nil {
		return ""
	}
	for i := len(m.Parts) - 1; i >= 0; i-- {
		if m.Parts[i].Type == PartText {
			return m.Parts[i].Text
		}
	}
	return ""
}
