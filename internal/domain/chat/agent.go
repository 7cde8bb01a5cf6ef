package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	VisibilityPrivate  = "private"
	VisibilityReadonly = "readonly"
	VisibilityPublic   = "public"
)

type Agent struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Name        string         `gorm:"column:name;not null" json:"name"`
	Description string         `gorm:"column:description;not null;default:''" json:"description"`
	Icon        datatypes.JSON `gorm:"column:icon" json:"icon,omitempty"`
	Visibility  string         `gorm:"column:visibility;not null;default:'private'" json:"visibility"`

	Provider     string                       `gorm:"column:provider;not null;default:''" json:"provider"`
	Model        string                       `gorm:"column:model;not null;default:''" json:"model"`
	Instructions string                       `gorm:"column:instructions;type:text;not null;default:''" json:"instructions"`
	Mentions     datatypes.JSONSlice[Mention] `gorm:"column:mentions" json:"mentions"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Agent) TableName() string { return "chat_agent" }

func (a *Agent) ModelRef() *ModelRef {
	if a == nil || a.Model == "" {
		return nil
	}
	return &ModelRef{Provider: a.Provider, Model: a.Model}
}

func (a *Agent) VisibleTo(userID uuid.UUID) bool {
	if a == nil {
		return false
	}
	return a.UserID == userID || a.Visibility == VisibilityPublic || a.Visibility == VisibilityReadonly
}
