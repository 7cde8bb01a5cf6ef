package app

import (
	"gorm.io/gorm"

	repos "github.com/yungbote/chorus-backend/internal/data/repos/chat"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
)

type Repos struct {
	Threads    repos.ThreadRepo
	Messages   repos.MessageRepo
	Agents     repos.AgentRepo
	Workflows  repos.WorkflowRepo
	McpServers repos.McpServerRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Threads:    repos.NewThreadRepo(db, log),
		Messages:   repos.NewMessageRepo(db, log),
		Agents:     repos.NewAgentRepo(db, log),
		Workflows:  repos.NewWorkflowRepo(db, log),
		McpServers: repos.NewMcpServerRepo(db, log),
	}
}
