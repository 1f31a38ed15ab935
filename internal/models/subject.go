package models

import (
	"time"

	"github.com/lib/pq"
)

// Subject represents an academic subject and the teachers qualified to teach it.
type Subject struct {
	ID         string         `db:"id" json:"id"`
	Code       string         `db:"code" json:"code"`
	Name       string         `db:"name" json:"name"`
	TeacherIDs pq.StringArray `db:"teacher_ids" json:"teacher_ids"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at" json:"updated_at"`
}
