package dto

import "time"

// GenerateExamRequest creates a draft exam and triggers question generation.
type GenerateExamRequest struct {
	Title           string     `json:"title"`
	SubjectID       string     `json:"subjectId" validate:"required"`
	ClassID         string     `json:"classId" validate:"required"`
	TeacherID       string     `json:"teacherId" validate:"required"`
	DurationMinutes int        `json:"duration" validate:"omitempty,min=1,max=600"`
	DueDate         *time.Time `json:"dueDate"`
	Topic           string     `json:"topic" validate:"required"`
	Difficulty      string     `json:"difficulty" validate:"omitempty,oneof=Easy Medium Hard"`
	Count           int        `json:"count" validate:"omitempty,min=1"`
}

// SubmitAnswer is one answer in a submission.
type SubmitAnswer struct {
	QuestionID string `json:"questionId" validate:"required"`
	Answer     string `json:"answer"`
}

// SubmitExamRequest carries a student's answers.
type SubmitExamRequest struct {
	StudentID string         `json:"studentId" validate:"required"`
	Answers   []SubmitAnswer `json:"answers" validate:"dive"`
}

// PublishExamRequest sets the exam status; a missing value toggles it.
type PublishExamRequest struct {
	IsActive *bool `json:"isActive"`
}
