package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-generation-core/internal/models"
)

// TimetableRepository persists committed class timetables. A unique index on
// (class_id, term_id) keeps at most one timetable per pair.
type TimetableRepository struct {
	db *sqlx.DB
}

// NewTimetableRepository constructs repository.
func NewTimetableRepository(db *sqlx.DB) *TimetableRepository {
	return &TimetableRepository{db: db}
}

const timetableColumns = `id, class_id, term_id, schedule, job_id, created_at`

// ListByTerm returns every committed timetable for the term.
func (r *TimetableRepository) ListByTerm(ctx context.Context, termID string) ([]models.Timetable, error) {
	query := `SELECT ` + timetableColumns + ` FROM timetables WHERE term_id = $1 ORDER BY class_id`
	var timetables []models.Timetable
	if err := r.db.SelectContext(ctx, &timetables, query, termID); err != nil {
		return nil, fmt.Errorf("list timetables: %w", err)
	}
	return timetables, nil
}

// FindByClassTerm returns the committed timetable or sql.ErrNoRows.
func (r *TimetableRepository) FindByClassTerm(ctx context.Context, classID, termID string) (*models.Timetable, error) {
	query := `SELECT ` + timetableColumns + ` FROM timetables WHERE class_id = $1 AND term_id = $2`
	var timetable models.Timetable
	if err := r.db.GetContext(ctx, &timetable, query, classID, termID); err != nil {
		return nil, err
	}
	return &timetable, nil
}

// Replace deletes any timetable of the same (class, term) and inserts the new
// one inside a single transaction, so readers observe either version but never
// neither or both. Replaces within one term are serialized by a transaction
// scoped advisory lock, and check sees the other classes' timetables as they
// stand under that lock. A non-nil error from check aborts the transaction.
func (r *TimetableRepository) Replace(ctx context.Context, timetable *models.Timetable, check func(committed []models.Timetable) error) (err error) {
	if timetable == nil {
		return fmt.Errorf("timetable payload is nil")
	}
	if timetable.ClassID == "" || timetable.TermID == "" {
		return fmt.Errorf("class_id and term_id are required")
	}
	if timetable.ID == "" {
		timetable.ID = uuid.NewString()
	}
	if timetable.CreatedAt.IsZero() {
		timetable.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin timetable replace: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext('timetables:' || $1))`, timetable.TermID); err != nil {
		return fmt.Errorf("lock term timetables: %w", err)
	}

	if check != nil {
		query := `SELECT ` + timetableColumns + ` FROM timetables WHERE term_id = $1 AND class_id <> $2 ORDER BY class_id`
		var committed []models.Timetable
		if err = tx.SelectContext(ctx, &committed, query, timetable.TermID, timetable.ClassID); err != nil {
			return fmt.Errorf("list committed timetables: %w", err)
		}
		if err = check(committed); err != nil {
			return err
		}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM timetables WHERE class_id = $1 AND term_id = $2`, timetable.ClassID, timetable.TermID); err != nil {
		return fmt.Errorf("delete previous timetable: %w", err)
	}

	const insertQuery = `INSERT INTO timetables (id, class_id, term_id, schedule, job_id, created_at)
VALUES (:id, :class_id, :term_id, :schedule, :job_id, :created_at)`
	if _, err = sqlx.NamedExecContext(ctx, tx, insertQuery, timetable); err != nil {
		return fmt.Errorf("insert timetable: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit timetable replace: %w", err)
	}
	return nil
}

// DeleteByClassTerm removes the committed timetable for the pair.
func (r *TimetableRepository) DeleteByClassTerm(ctx context.Context, classID, termID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM timetables WHERE class_id = $1 AND term_id = $2`, classID, termID)
	if err != nil {
		return fmt.Errorf("delete timetable: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("timetable rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
