package accounts

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/llmgate/internal/common"
	"github.com/dmitrijs2005/llmgate/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock
}

const (
	selectQ = `(?s)^\s*SELECT\s+balance,\s*updated_at\s+FROM\s+credit_accounts\s+WHERE\s+scope_kind\s*=\s*\$1\s+AND\s+scope_id\s*=\s*\$2\s*$`
	insertQ = `(?s)^\s*INSERT\s+INTO\s+credit_accounts.*ON\s+CONFLICT.*DO\s+NOTHING\s*$`
	casQ    = `(?s)^\s*UPDATE\s+credit_accounts\s+SET\s+balance\s*=\s*\$4.*WHERE\s+scope_kind\s*=\s*\$1\s+AND\s+scope_id\s*=\s*\$2\s+AND\s+balance\s*=\s*\$3\s*$`
)

func TestGet_Found(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()

	mock.ExpectQuery(selectQ).
		WithArgs("user", "u-1").
		WillReturnRows(sqlmock.NewRows([]string{"balance", "updated_at"}).AddRow(int64(100), now))

	acc, err := repo.Get(context.Background(), models.UserScope("u-1"))
	require.NoError(t, err)
	assert.Equal(t, models.Credits(100), acc.Balance)
	assert.Equal(t, models.UserScope("u-1"), acc.Scope)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(selectQ).WithArgs("group", "g-1").WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), models.GroupScope("g-1"))
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestGet_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(selectQ).WithArgs("user", "u-1").WillReturnError(errors.New("conn reset"))

	_, err := repo.Get(context.Background(), models.UserScope("u-1"))
	require.Error(t, err)
	assert.Regexp(t, regexp.MustCompile(`db error: .*conn reset`), err.Error())
}

func TestCreate(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(insertQ).WithArgs("user", "u-1", int64(50)).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Create(context.Background(), models.UserScope("u-1"), 50))

	mock.ExpectExec(insertQ).WithArgs("user", "u-2", int64(0)).WillReturnError(errors.New("boom"))
	assert.Error(t, repo.Create(context.Background(), models.UserScope("u-2"), 0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndSwap(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	scope := models.UserScope("u-1")

	mock.ExpectExec(casQ).WithArgs("user", "u-1", int64(100), int64(60)).WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.CompareAndSwap(context.Background(), scope, 100, 60)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec(casQ).WithArgs("user", "u-1", int64(100), int64(60)).WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = repo.CompareAndSwap(context.Background(), scope, 100, 60)
	require.NoError(t, err)
	assert.False(t, ok, "lost race must be reported, not treated as success")

	mock.ExpectExec(casQ).WithArgs("user", "u-1", int64(60), int64(0)).WillReturnError(errors.New("check constraint"))
	_, err = repo.CompareAndSwap(context.Background(), scope, 60, 0)
	assert.Error(t, err)

	mock.ExpectExec(casQ).WithArgs("user", "u-1", int64(1), int64(0)).WillReturnResult(sqlmock.NewErrorResult(errors.New("no rows info")))
	_, err = repo.CompareAndSwap(context.Background(), scope, 1, 0)
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}
