package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-generation-core/internal/models"
)

func sampleTimetable() *models.Timetable {
	subject, teacher := "math", "T1"
	return &models.Timetable{
		ClassID: "10A",
		TermID:  "2024-1",
		Schedule: models.WeekSchedule{{
			Day: models.Monday,
			Slots: []models.TimetableSlot{{
				Day: models.Monday, StartTime: "08:00", EndTime: "08:45", Kind: models.SlotLesson,
				SubjectID: &subject, TeacherID: &teacher,
			}},
		}},
	}
}

func TestTimetableRepositoryReplaceCommitsDeleteAndInsert(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext('timetables:' || $1))")).
		WithArgs("2024-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM timetables WHERE class_id = $1 AND term_id = $2")).
		WithArgs("10A", "2024-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO timetables")).
		WithArgs(sqlmock.AnyArg(), "10A", "2024-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	timetable := sampleTimetable()
	require.NoError(t, repo.Replace(context.Background(), timetable, nil))
	assert.NotEmpty(t, timetable.ID)
	assert.False(t, timetable.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableRepositoryReplaceRollsBackOnInsertFailure(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM timetables").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO timetables").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	err := repo.Replace(context.Background(), sampleTimetable(), nil)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableRepositoryReplaceChecksCommittedUnderTermLock(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	schedule := `[{"day":"Monday","slots":[{"day":"Monday","startTime":"08:00","endTime":"08:45","kind":"LESSON","subjectId":"math","teacherId":"T1"}]}]`
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs("2024-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM timetables WHERE term_id = $1 AND class_id <> $2")).
		WithArgs("2024-1", "10A").
		WillReturnRows(sqlmock.NewRows([]string{"id", "class_id", "term_id", "schedule", "job_id", "created_at"}).
			AddRow("tt-2", "10B", "2024-1", []byte(schedule), nil, time.Now()))
	mock.ExpectRollback()

	clash := errors.New("teacher T1 is already booked")
	var seen []models.Timetable
	err := repo.Replace(context.Background(), sampleTimetable(), func(committed []models.Timetable) error {
		seen = committed
		return clash
	})
	require.ErrorIs(t, err, clash)
	require.Len(t, seen, 1)
	assert.Equal(t, "10B", seen[0].ClassID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableRepositoryFindByClassTerm(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	schedule := `[{"day":"Monday","slots":[{"day":"Monday","startTime":"08:00","endTime":"08:45","kind":"LESSON","subjectId":"math","teacherId":"T1"}]}]`
	mock.ExpectQuery(regexp.QuoteMeta("FROM timetables WHERE class_id = $1 AND term_id = $2")).
		WithArgs("10A", "2024-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "class_id", "term_id", "schedule", "job_id", "created_at"}).
			AddRow("tt-1", "10A", "2024-1", []byte(schedule), nil, time.Now()))

	timetable, err := repo.FindByClassTerm(context.Background(), "10A", "2024-1")
	require.NoError(t, err)
	require.Len(t, timetable.Schedule, 1)
	lessons := timetable.Schedule[0].Lessons()
	require.Len(t, lessons, 1)
	assert.Equal(t, "T1", *lessons[0].TeacherID)
	assert.Nil(t, timetable.JobID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableRepositoryDeleteMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	mock.ExpectExec("DELETE FROM timetables").WithArgs("10A", "2024-1").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.DeleteByClassTerm(context.Background(), "10A", "2024-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
