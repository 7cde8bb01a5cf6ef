package chat

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/chorus-backend/internal/domain/chat"
	"github.com/yungbote/chorus-backend/internal/pkg/dbctx"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
)

type WorkflowRepo interface {
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Workflow, error)
	Create(dbc dbctx.Context, rows []*types.Workflow) ([]*types.Workflow, error)
}

type workflowRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWorkflowRepo(db *gorm.DB, log *logger.Logger) WorkflowRepo {
	return &workflowRepo{db: db, log: log.With("repo", "ChatWorkflowRepo")}
}

func (r *workflowRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Workflow, error) {
	var out []*types.Workflow
	if len(ids) == 0 {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *workflowRepo) Create(dbc dbctx.Context, rows []*types.Workflow) ([]*types.Workflow, error) {
	if len(rows) == 0 {
		return []*types.Workflow{}, nil
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
