package models

import (
	"time"

	"github.com/lib/pq"
)

// Class represents a class whose weekly timetable is generated per term.
type Class struct {
	ID         string         `db:"id" json:"id"`
	Name       string         `db:"name" json:"name"`
	SubjectIDs pq.StringArray `db:"subject_ids" json:"subject_ids"`
	Capacity   int            `db:"capacity" json:"capacity"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at" json:"updated_at"`
}

// OrderedSubjectIDs returns the class subjects in their stored order with
// duplicates and blanks removed; the first occurrence wins.
func (c Class) OrderedSubjectIDs() []string {
	seen := make(map[string]bool, len(c.SubjectIDs))
	result := make([]string, 0, len(c.SubjectIDs))
	for _, id := range c.SubjectIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		result = append(result, id)
	}
	return result
}
