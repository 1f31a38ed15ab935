package models

import (
	"database/sql/driver"
	"time"
)

// SubmissionAnswer is a student's answer to one question.
type SubmissionAnswer struct {
	QuestionID string `json:"questionId" validate:"required"`
	Answer     string `json:"answer"`
}

// SubmissionAnswers is persisted as JSONB.
type SubmissionAnswers []SubmissionAnswer

// Value marshals answers for persistence.
func (a SubmissionAnswers) Value() (driver.Value, error) {
	if a == nil {
		a = SubmissionAnswers{}
	}
	return marshalColumn([]SubmissionAnswer(a), "submission answers")
}

// Scan unmarshals JSONB answers.
func (a *SubmissionAnswers) Scan(value interface{}) error {
	*a = SubmissionAnswers{}
	return scanColumn(value, (*[]SubmissionAnswer)(a), "submission answers")
}

// Submission is the graded, immutable record of one student's exam attempt.
type Submission struct {
	ID          string            `db:"id" json:"id"`
	ExamID      string            `db:"exam_id" json:"exam_id"`
	StudentID   string            `db:"student_id" json:"student_id"`
	Answers     SubmissionAnswers `db:"answers" json:"answers"`
	Score       int               `db:"score" json:"score"`
	TotalPoints int               `db:"total_points" json:"total_points"`
	SubmittedAt time.Time         `db:"submitted_at" json:"submitted_at"`
}
