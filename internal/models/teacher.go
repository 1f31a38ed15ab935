package models

import (
	"time"

	"github.com/lib/pq"
)

// Teacher represents an instructor and the subjects they may teach.
type Teacher struct {
	ID         string         `db:"id" json:"id"`
	FullName   string         `db:"full_name" json:"full_name"`
	SubjectIDs pq.StringArray `db:"subject_ids" json:"subject_ids"`
	Active     bool           `db:"active" json:"active"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at" json:"updated_at"`
}

// Teaches reports whether the teacher lists subjectID among their competencies.
func (t Teacher) Teaches(subjectID string) bool {
	for _, id := range t.SubjectIDs {
		if id == subjectID {
			return true
		}
	}
	return false
}

// TeacherFilter narrows teacher listings.
type TeacherFilter struct {
	SubjectIDs []string
	IDs        []string
	ActiveOnly bool
}
