package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/chorus-backend/internal/domain/chat"
	"github.com/yungbote/chorus-backend/internal/pkg/dbctx"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
)

type ThreadRepo interface {
	// GetByID returns (nil, nil) when the thread does not exist.
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Thread, error)
	Create(dbc dbctx.Context, row *types.Thread) (*types.Thread, error)
	UpdateTitle(dbc dbctx.Context, id uuid.UUID, title string) error
	ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.Thread, error)
}

type threadRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewThreadRepo(db *gorm.DB, log *logger.Logger) ThreadRepo {
	return &threadRepo{db: db, log: log.With("repo", "ChatThreadRepo")}
}

func (r *threadRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Thread, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing thread id")
	}
	var row types.Thread
	err := dbc.DB(r.db).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *threadRepo) Create(dbc dbctx.Context, row *types.Thread) (*types.Thread, error) {
	if row == nil || row.ID == uuid.Nil {
		return nil, fmt.Errorf("missing thread id")
	}
	if row.UserID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	if strings.TrimSpace(row.Title) == "" {
		row.Title = types.DefaultThreadTitle
	}
	if err := dbc.DB(r.db).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *threadRepo) UpdateTitle(dbc dbctx.Context, id uuid.UUID, title string) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing thread id")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("missing title")
	}
	return dbc.DB(r.db).Model(&types.Thread{}).Where("id = ?", id).Update("title", title).Error
}

func (r *threadRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.Thread, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []*types.Thread
	if err := dbc.DB(r.db).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
