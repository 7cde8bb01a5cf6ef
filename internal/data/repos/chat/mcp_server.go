package chat

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/chorus-backend/internal/domain/chat"
	"github.com/yungbote/chorus-backend/internal/pkg/dbctx"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
)

type McpServerRepo interface {
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.McpServer, error)
	ListEnabledByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.McpServer, error)
	Create(dbc dbctx.Context, rows []*types.McpServer) ([]*types.McpServer, error)
	ListCustomizations(dbc dbctx.Context, userID uuid.UUID, serverIDs []uuid.UUID) ([]*types.McpServerCustomization, error)
	UpsertCustomization(dbc dbctx.Context, row *types.McpServerCustomization) error
}

type mcpServerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMcpServerRepo(db *gorm.DB, log *logger.Logger) McpServerRepo {
	return &mcpServerRepo{db: db, log: log.With("repo", "McpServerRepo")}
}

func (r *mcpServerRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.McpServer, error) {
	var out []*types.McpServer
	if len(ids) == 0 {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *mcpServerRepo) ListEnabledByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.McpServer, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	var out []*types.McpServer
	if err := dbc.DB(r.db).
		Where("user_id = ? AND enabled = ?", userID, true).
		Order("name ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *mcpServerRepo) Create(dbc dbctx.Context, rows []*types.McpServer) ([]*types.McpServer, error) {
	if len(rows) == 0 {
		return []*types.McpServer{}, nil
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

func (r *mcpServerRepo) ListCustomizations(dbc dbctx.Context, userID uuid.UUID, serverIDs []uuid.UUID) ([]*types.McpServerCustomization, error) {
	var out []*types.McpServerCustomization
	if userID == uuid.Nil || len(serverIDs) == 0 {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("user_id = ? AND server_id IN ?", userID, serverIDs).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *mcpServerRepo) UpsertCustomization(dbc dbctx.Context, row *types.McpServerCustomization) error {
	if row == nil || row.ServerID == uuid.Nil || row.UserID == uuid.Nil {
		return fmt.Errorf("missing server_id or user_id")
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	return dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "server_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"prompt", "updated_at"}),
	}).Create(row).Error
}
