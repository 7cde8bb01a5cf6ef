package db

import (
	"gorm.io/gorm"

	"github.com/yungbote/chorus-backend/internal/domain/chat"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&chat.Thread{},
		&chat.Message{},
		&chat.Agent{},
		&chat.Workflow{},
		&chat.McpServer{},
		&chat.McpServerCustomization{},
	)
}
