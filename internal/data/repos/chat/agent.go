package chat

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/chorus-backend/internal/domain/chat"
	"github.com/yungbote/chorus-backend/internal/pkg/dbctx"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
)

type AgentRepo interface {
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Agent, error)
	Create(dbc dbctx.Context, rows []*types.Agent) ([]*types.Agent, error)
}

type agentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAgentRepo(db *gorm.DB, log *logger.Logger) AgentRepo {
	return &agentRepo{db: db, log: log.With("repo", "ChatAgentRepo")}
}

func (r *agentRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Agent, error) {
	var out []*types.Agent
	if len(ids) == 0 {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *agentRepo) Create(dbc dbctx.Context, rows []*types.Agent) ([]*types.Agent, error) {
	if len(rows) == 0 {
		return []*types.Agent{}, nil
	}
	for _, row := range rows {
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
	}
	if err := dbc.DB(r.db).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
