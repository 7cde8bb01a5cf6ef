package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Workflow is a published automation exposed to the model as a tool.
type Workflow struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Name        string            `gorm:"column:name;not null" json:"name"`
	Description string            `gorm:"column:description;not null;default:''" json:"description"`
	InputSchema datatypes.JSONMap `gorm:"column:input_schema" json:"input_schema,omitempty"`

	WorkflowType string `gorm:"column:workflow_type;not null" json:"workflow_type"`
	TaskQueue    string `gorm:"column:task_queue;not null;default:''" json:"task_queue"`
	Visibility   string `gorm:"column:visibility;not null;default:'private'" json:"visibility"`
	Published    bool   `gorm:"column:published;not null;default:false" json:"published"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Workflow) TableName() string { return "chat_workflow" }

func (w *Workflow) RunnableBy(userID uuid.UUID) bool {
	if w == nil || !w.Published {
		return false
	}
	return w.UserID == userID || w.Visibility == VisibilityPublic || w.Visibility == VisibilityReadonly
}
