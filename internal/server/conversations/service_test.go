package conversations

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/llmgate/internal/common"
	"github.com/dmitrijs2005/llmgate/internal/logging"
	"github.com/dmitrijs2005/llmgate/internal/server/catalog"
	"github.com/dmitrijs2005/llmgate/internal/server/models"
	"github.com/dmitrijs2005/llmgate/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/llmgate/internal/server/sidebar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLists struct {
	mu      sync.Mutex
	applied []sidebar.Action
	list    []models.SidebarConversation
}

func (f *fakeLists) Apply(ctx context.Context, userID string, a sidebar.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, a)
	return nil
}

func (f *fakeLists) Snapshot(ctx context.Context, userID string) ([]models.SidebarConversation, error) {
	return f.list, nil
}

func newService(t *testing.T) (*Service, sqlmock.Sqlmock, *fakeLists) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	lists := &fakeLists{}
	cat := catalog.New(catalog.Model{ID: "m", Provider: "p", Name: "Model", Kind: catalog.KindChat})
	svc := NewService(db, repomanager.NewPostgresRepositoryManager(), lists, cat, logging.Nop{})
	svc.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	return svc, mock, lists
}

func TestCreate(t *testing.T) {
	svc, mock, lists := newService(t)
	mock.ExpectExec(`INSERT\s+INTO\s+conversations`).WillReturnResult(sqlmock.NewResult(0, 1))

	c, err := svc.Create(context.Background(), "u-1", "  Trip ", "p", "m")
	require.NoError(t, err)
	assert.Equal(t, "Trip", c.Title)
	assert.Equal(t, "Model", c.Model.Name)
	require.Len(t, lists.applied, 1)
	created, ok := lists.applied[0].(sidebar.Created)
	require.True(t, ok)
	assert.Equal(t, c.ID, created.Conversation.ID)
}

func TestCreate_UnknownModel(t *testing.T) {
	svc, _, lists := newService(t)
	_, err := svc.Create(context.Background(), "u-1", "x", "p", "nope")
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.Empty(t, lists.applied)
}

func TestRename(t *testing.T) {
	svc, mock, lists := newService(t)
	mock.ExpectExec(`UPDATE\s+conversations\s+SET\s+title`).WithArgs("c-1", "u-1", "New").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.Rename(context.Background(), "u-1", "c-1", "New"))
	assert.Equal(t, []sidebar.Action{sidebar.TitleChanged{ID: "c-1", Title: "New"}}, lists.applied)

	assert.ErrorIs(t, svc.Rename(context.Background(), "u-1", "c-1", " "), common.ErrValidation)
}

func TestRename_NotOwned(t *testing.T) {
	svc, mock, lists := newService(t)
	mock.ExpectExec(`UPDATE\s+conversations`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := svc.Rename(context.Background(), "u-2", "c-1", "New")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.Empty(t, lists.applied)
}

func TestArchiveAndDelete(t *testing.T) {
	svc, mock, lists := newService(t)
	mock.ExpectExec(`UPDATE\s+conversations\s+SET\s+active`).WithArgs("c-1", "u-1", false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE\s+FROM\s+conversations`).WithArgs("c-1", "u-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.Archive(context.Background(), "u-1", "c-1"))
	require.NoError(t, svc.Delete(context.Background(), "u-1", "c-1"))
	assert.Equal(t, []sidebar.Action{sidebar.Archived{ID: "c-1"}, sidebar.Deleted{ID: "c-1"}}, lists.applied)
}

func TestDelete_DatabaseDown(t *testing.T) {
	svc, mock, _ := newService(t)
	mock.ExpectExec(`DELETE\s+FROM\s+conversations`).WillReturnError(errors.New("conn refused"))

	err := svc.Delete(context.Background(), "u-1", "c-1")
	assert.ErrorIs(t, err, common.ErrPersistenceUnavailable)
}

func TestSetTags(t *testing.T) {
	svc, mock, lists := newService(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM\s+conversations\s+WHERE\s+id`).WithArgs("c-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "model_id", "model_name", "provider", "active", "created_at", "last_activity_at"}).
			AddRow("c-1", "u-1", "t", "m", "Model", "p", true, now, now))
	mock.ExpectQuery(`INSERT\s+INTO\s+tags`).WithArgs(sqlmock.AnyArg(), "u-1", "work", "red").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("t-1"))
	mock.ExpectExec(`DELETE\s+FROM\s+conversation_tags`).WithArgs("c-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT\s+INTO\s+conversation_tags`).WithArgs("c-1", "t-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tags, err := svc.SetTags(context.Background(), "u-1", "c-1", []models.Tag{{Name: "work", Color: "red"}, {Name: "work"}, {Name: " "}})
	require.NoError(t, err)
	assert.Equal(t, []models.Tag{{ID: "t-1", Name: "work", Color: "red"}}, tags)
	assert.Equal(t, []sidebar.Action{sidebar.TagsChanged{ID: "c-1", Tags: tags}}, lists.applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetTags_NotOwnedRollsBack(t *testing.T) {
	svc, mock, lists := newService(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM\s+conversations`).WithArgs("c-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "model_id", "model_name", "provider", "active", "created_at", "last_activity_at"}).
			AddRow("c-1", "owner", "t", "", "", "", true, now, now))
	mock.ExpectRollback()

	_, err := svc.SetTags(context.Background(), "intruder", "c-1", []models.Tag{{Name: "x"}})
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.Empty(t, lists.applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList(t *testing.T) {
	svc, _, lists := newService(t)
	lists.list = []models.SidebarConversation{{ID: "c-1"}}

	got, err := svc.List(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, lists.list, got)
}
