package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/chorus-backend/internal/domain/chat"
	"github.com/yungbote/chorus-backend/internal/pkg/dbctx"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
)

type MessageRepo interface {
	// Upsert inserts the message or overwrites role, parts and metadata of an existing id.
	Upsert(dbc dbctx.Context, row *types.Message) error
	GetByID(dbc dbctx.Context, id string) (*types.Message, error)
	ListByThread(dbc dbctx.Context, threadID uuid.UUID, limit int) ([]*types.Message, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, log *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: log.With("repo", "ChatMessageRepo")}
}

func (r *messageRepo) Upsert(dbc dbctx.Context, row *types.Message) error {
	if row == nil || strings.TrimSpace(row.ID) == "" {
		return fmt.Errorf("missing message id")
	}
	if row.ThreadID == uuid.Nil {
		return fmt.Errorf("missing thread_id")
	}
	if !row.Role.Valid() {
		return fmt.Errorf("invalid role %q", row.Role)
	}
	return dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "parts", "metadata", "updated_at"}),
	}).Create(row).Error
}

func (r *messageRepo) GetByID(dbc dbctx.Context, id string) (*types.Message, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("missing message id")
	}
	var row types.Message
	err := dbc.DB(r.db).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *messageRepo) ListByThread(dbc dbctx.Context, threadID uuid.UUID, limit int) ([]*types.Message, error) {
	if threadID == uuid.Nil {
		return nil, fmt.Errorf("missing thread_id")
	}
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	var out []*types.Message
	if err := dbc.DB(r.db).
		Where("thread_id = ?", threadID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	// Normalize to ASC for callers.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
