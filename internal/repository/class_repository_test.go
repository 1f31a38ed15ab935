package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewClassRepository(db)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, subject_ids, capacity, created_at, updated_at FROM classes WHERE id = $1")).
		WithArgs("10A").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "subject_ids", "capacity", "created_at", "updated_at"}).
			AddRow("10A", "X IPA 1", "{math,physics}", 32, now, now))

	class, err := repo.FindByID(context.Background(), "10A")
	require.NoError(t, err)
	assert.Equal(t, "X IPA 1", class.Name)
	assert.Equal(t, pq.StringArray{"math", "physics"}, class.SubjectIDs)

	mock.ExpectQuery(regexp.QuoteMeta("FROM classes WHERE id = $1")).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.FindByID(context.Background(), "nope")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassRepositoryExists(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM classes WHERE id = $1)")).
		WithArgs("10A").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	exists, err := NewClassRepository(db).Exists(context.Background(), "10A")
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubjectRepositoryListByIDs(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewSubjectRepository(db)
	subjects, err := repo.ListByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, subjects)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, code, name, teacher_ids, created_at, updated_at FROM subjects WHERE id = ANY($1) ORDER BY code")).
		WithArgs(pq.Array([]string{"math", "physics"})).
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "name", "teacher_ids", "created_at", "updated_at"}).
			AddRow("math", "MTK", "Mathematics", "{T1}", now, now))

	subjects, err = repo.ListByIDs(context.Background(), []string{"math", "physics"})
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.Equal(t, pq.StringArray{"T1"}, subjects[0].TeacherIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}
