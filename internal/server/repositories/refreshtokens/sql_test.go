package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/metta/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*SQLRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := NewSQLRepository(db)
	repo.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return repo, mock
}

func TestCreate_Success(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	q := `(?s)^INSERT\s+INTO\s+refresh_tokens\b.*VALUES\s*\(\$1,\s*\$2,\s*\$3\)\s*$`
	mock.ExpectExec(q).
		WithArgs("u1", "tok123", int64(1_700_000_000+30*60)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), "u1", "tok123", 30*time.Minute))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`INSERT\s+INTO\s+refresh_tokens`).WillReturnError(errors.New("insert failed"))

	err := repo.Create(context.Background(), "u1", "tok", time.Minute)
	require.ErrorContains(t, err, "db error: insert failed")
}

func TestFind_Success(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT\s+user_id,\s*expires_at\s+FROM\s+refresh_tokens\s+WHERE\s+token\s*=\s*\$1`).
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "expires_at"}).AddRow("u1", int64(1_700_000_600)))

	got, err := repo.Find(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "tok", got.Token)
	assert.True(t, got.Expires.Equal(time.Unix(1_700_000_600, 0)))
}

func TestFind_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM\s+refresh_tokens`).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.Find(context.Background(), "missing")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestFind_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM\s+refresh_tokens`).WithArgs("tok").WillReturnError(errors.New("select failed"))

	_, err := repo.Find(context.Background(), "tok")
	require.ErrorContains(t, err, "db error: select failed")
}

func TestDelete(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`DELETE FROM refresh_tokens WHERE token = \$1`).
		WithArgs("tok").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(context.Background(), "tok"))

	mock.ExpectExec(`DELETE FROM refresh_tokens WHERE token = \$1`).
		WithArgs("spent").
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, repo.Delete(context.Background(), "spent"), common.ErrorNotFound)

	mock.ExpectExec(`DELETE FROM refresh_tokens WHERE token = \$1`).
		WithArgs("odd").
		WillReturnResult(sqlmock.NewErrorResult(errors.New("rows-err")))
	require.ErrorContains(t, repo.Delete(context.Background(), "odd"), "rows affected error: rows-err")

	mock.ExpectExec(`DELETE FROM refresh_tokens WHERE user_id = \$1`).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	require.NoError(t, repo.DeleteByUser(context.Background(), "u1"))

	mock.ExpectExec(`DELETE FROM refresh_tokens WHERE user_id = \$1`).
		WithArgs("u2").
		WillReturnError(errors.New("delete failed"))
	require.ErrorContains(t, repo.DeleteByUser(context.Background(), "u2"), "db error: delete failed")

	require.NoError(t, mock.ExpectationsWereMet())
}
