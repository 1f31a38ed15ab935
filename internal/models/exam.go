package models

import (
	"database/sql/driver"
	"time"
)

// QuestionType enumerates supported question formats.
type QuestionType string

const (
	QuestionMCQ         QuestionType = "MCQ"
	QuestionShortAnswer QuestionType = "SHORT_ANSWER"
)

// Question is a single exam item. CorrectAnswer is restricted: it is only
// populated when the exam is read with answers revealed.
type Question struct {
	ID            string       `json:"id"`
	Text          string       `json:"questionText"`
	Type          QuestionType `json:"type"`
	Options       []string     `json:"options"`
	CorrectAnswer string       `json:"correctAnswer,omitempty"`
	Points        int          `json:"points"`
}

// Questions is persisted as JSONB.
type Questions []Question

// Value marshals questions for persistence.
func (q Questions) Value() (driver.Value, error) {
	if q == nil {
		q = Questions{}
	}
	return marshalColumn([]Question(q), "questions")
}

// Scan unmarshals JSONB questions.
func (q *Questions) Scan(value interface{}) error {
	*q = Questions{}
	return scanColumn(value, (*[]Question)(q), "questions")
}

// WithoutAnswers returns a copy with every correct answer cleared.
func (q Questions) WithoutAnswers() Questions {
	if q == nil {
		return nil
	}
	out := make(Questions, len(q))
	for i, question := range q {
		question.Options = append([]string(nil), question.Options...)
		question.CorrectAnswer = ""
		out[i] = question
	}
	return out
}

// TotalPoints sums the points of all questions.
func (q Questions) TotalPoints() int {
	total := 0
	for _, question := range q {
		total += question.Points
	}
	return total
}

// Exam is a timed assessment owned by a subject, class and teacher.
type Exam struct {
	ID              string    `db:"id" json:"id"`
	Title           string    `db:"title" json:"title"`
	SubjectID       string    `db:"subject_id" json:"subject_id"`
	ClassID         string    `db:"class_id" json:"class_id"`
	TeacherID       string    `db:"teacher_id" json:"teacher_id"`
	DurationMinutes int       `db:"duration_minutes" json:"duration_minutes"`
	DueDate         time.Time `db:"due_date" json:"due_date"`
	IsActive        bool      `db:"is_active" json:"is_active"`
	Questions       Questions `db:"questions" json:"questions"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}
