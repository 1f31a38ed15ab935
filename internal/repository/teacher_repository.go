package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-generation-core/internal/models"
)

// TeacherRepository reads teacher competencies.
type TeacherRepository struct {
	db *sqlx.DB
}

// NewTeacherRepository constructs a TeacherRepository.
func NewTeacherRepository(db *sqlx.DB) *TeacherRepository {
	return &TeacherRepository{db: db}
}

// List returns teachers matching the filter ordered by id. SubjectIDs and IDs
// are alternatives: a teacher matches when either applies.
func (r *TeacherRepository) List(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, error) {
	var conditions []string
	var args []interface{}

	if filter.ActiveOnly {
		conditions = append(conditions, "active = TRUE")
	}
	var match []string
	if len(filter.SubjectIDs) > 0 {
		args = append(args, pq.Array(filter.SubjectIDs))
		match = append(match, fmt.Sprintf("subject_ids && $%d", len(args)))
	}
	if len(filter.IDs) > 0 {
		args = append(args, pq.Array(filter.IDs))
		match = append(match, fmt.Sprintf("id = ANY($%d)", len(args)))
	}
	if len(match) > 0 {
		conditions = append(conditions, "("+strings.Join(match, " OR ")+")")
	}

	query := "SELECT id, full_name, subject_ids, active, created_at, updated_at FROM teachers"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id"

	var teachers []models.Teacher
	if err := r.db.SelectContext(ctx, &teachers, query, args...); err != nil {
		return nil, fmt.Errorf("list teachers: %w", err)
	}
	return teachers, nil
}
