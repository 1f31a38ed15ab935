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

// ExamRepository persists exams. It owns the answer-key projection: every read
// goes through FindByID, and correct answers leave the repository only when the
// caller asks for them explicitly.
type ExamRepository struct {
	db *sqlx.DB
}

// NewExamRepository constructs an ExamRepository.
func NewExamRepository(db *sqlx.DB) *ExamRepository {
	return &ExamRepository{db: db}
}

const examColumns = `id, title, subject_id, class_id, teacher_id, duration_minutes, due_date, is_active, questions, created_at, updated_at`

// FindByID loads an exam; with revealAnswers=false every correctAnswer is stripped.
func (r *ExamRepository) FindByID(ctx context.Context, id string, revealAnswers bool) (*models.Exam, error) {
	query := `SELECT ` + examColumns + ` FROM exams WHERE id = $1`
	var exam models.Exam
	if err := r.db.GetContext(ctx, &exam, query, id); err != nil {
		return nil, err
	}
	if !revealAnswers {
		exam.Questions = exam.Questions.WithoutAnswers()
	}
	return &exam, nil
}

// Exists reports whether the exam is still present.
func (r *ExamRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM exams WHERE id = $1)`, id); err != nil {
		return false, fmt.Errorf("check exam exists: %w", err)
	}
	return exists, nil
}

// Create inserts a new exam.
func (r *ExamRepository) Create(ctx context.Context, exam *models.Exam) error {
	if exam.ID == "" {
		exam.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if exam.CreatedAt.IsZero() {
		exam.CreatedAt = now
	}
	exam.UpdatedAt = now
	query := `INSERT INTO exams (` + examColumns + `)
VALUES (:id, :title, :subject_id, :class_id, :teacher_id, :duration_minutes, :due_date, :is_active, :questions, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, exam); err != nil {
		return fmt.Errorf("create exam: %w", err)
	}
	return nil
}

// SaveQuestions replaces the question list and activity flag in one statement.
func (r *ExamRepository) SaveQuestions(ctx context.Context, id string, questions models.Questions, isActive bool) error {
	const query = `UPDATE exams SET questions = $1, is_active = $2, updated_at = $3 WHERE id = $4`
	result, err := r.db.ExecContext(ctx, query, questions, isActive, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("save exam questions: %w", err)
	}
	return expectAffected(result, "exam questions")
}

// SetActive publishes or withdraws an exam.
func (r *ExamRepository) SetActive(ctx context.Context, id string, isActive bool) error {
	const query = `UPDATE exams SET is_active = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, isActive, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set exam active: %w", err)
	}
	return expectAffected(result, "exam status")
}

func expectAffected(result sql.Result, what string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
