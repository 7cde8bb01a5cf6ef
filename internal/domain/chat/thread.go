package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const DefaultThreadTitle = "New Chat"

// Preferences are the owner's response preferences captured when the thread is created.
type Preferences struct {
	DisplayName   string `json:"displayName,omitempty"`
	Profession    string `json:"profession,omitempty"`
	ResponseStyle string `json:"responseStyle,omitempty"`
	BotName       string `json:"botName,omitempty"`
}

func (p Preferences) IsZero() bool {
	return p == Preferences{}
}

type Thread struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Title       string                          `gorm:"column:title;not null;default:'New Chat'" json:"title"`
	Preferences datatypes.JSONType[Preferences] `gorm:"column:preferences" json:"preferences"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Thread) TableName() string { return "chat_thread" }

// OwnedBy reports whether userID owns the thread. Ownership never changes after creation.
func (t *Thread) OwnedBy(userID uuid.UUID) bool {
	return t != nil && userID != uuid.Nil && t.UserID == userID
}
