package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-generation-core/internal/models"
)

// ErrDuplicateSubmission is returned when (exam_id, student_id) already exists.
var ErrDuplicateSubmission = errors.New("duplicate submission")

const uniqueViolation = "23505"

// SubmissionRepository persists graded submissions. The unique index on
// (exam_id, student_id) is the authoritative de-duplication signal.
type SubmissionRepository struct {
	db *sqlx.DB
}

// NewSubmissionRepository constructs a SubmissionRepository.
func NewSubmissionRepository(db *sqlx.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// FindByExamStudent returns the submission for the pair or sql.ErrNoRows.
func (r *SubmissionRepository) FindByExamStudent(ctx context.Context, examID, studentID string) (*models.Submission, error) {
	const query = `SELECT id, exam_id, student_id, answers, score, total_points, submitted_at FROM submissions WHERE exam_id = $1 AND student_id = $2`
	var submission models.Submission
	if err := r.db.GetContext(ctx, &submission, query, examID, studentID); err != nil {
		return nil, err
	}
	return &submission, nil
}

// Create inserts a submission, mapping a unique violation to ErrDuplicateSubmission.
func (r *SubmissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	if submission.ID == "" {
		submission.ID = uuid.NewString()
	}
	if submission.SubmittedAt.IsZero() {
		submission.SubmittedAt = time.Now().UTC()
	}
	const query = `INSERT INTO submissions (id, exam_id, student_id, answers, score, total_points, submitted_at)
VALUES (:id, :exam_id, :student_id, :answers, :score, :total_points, :submitted_at)`
	if _, err := r.db.NamedExecContext(ctx, query, submission); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSubmission
		}
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
