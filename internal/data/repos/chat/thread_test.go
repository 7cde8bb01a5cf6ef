package chat

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/chorus-backend/internal/data/repos/testutil"
	types "github.com/yungbote/chorus-backend/internal/domain/chat"
	"github.com/yungbote/chorus-backend/internal/pkg/dbctx"
)

func TestThreadRepo(t *testing.T) {
	repo := NewThreadRepo(testutil.DB(t), testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}
	owner := uuid.New()

	missing, err := repo.GetByID(dbc, uuid.New())
	if err != nil {
		t.Fatalf("GetByID missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("GetByID missing: expected nil, got %+v", missing)
	}

	created, err := repo.Create(dbc, &types.Thread{
		ID:          uuid.New(),
		UserID:      owner,
		Preferences: datatypes.NewJSONType(types.Preferences{DisplayName: "Sam"}),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Title != types.DefaultThreadTitle {
		t.Fatalf("title: want=%s got=%s", types.DefaultThreadTitle, created.Title)
	}

	got, err := repo.GetByID(dbc, created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !got.OwnedBy(owner) || got.OwnedBy(uuid.New()) {
		t.Fatalf("OwnedBy: unexpected ownership for %+v", got)
	}
	if got.Preferences.Data().DisplayName != "Sam" {
		t.Fatalf("preferences: got=%+v", got.Preferences.Data())
	}

	if err := repo.UpdateTitle(dbc, created.ID, "Trip planning"); err != nil {
		t.Fatalf("UpdateTitle: %v", err)
	}
	list, err := repo.ListByUser(dbc, owner, 10)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(list) != 1 || list[0].Title != "Trip planning" {
		t.Fatalf("ListByUser: unexpected %+v", list)
	}
}
