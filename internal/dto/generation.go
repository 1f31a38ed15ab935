package dto

import "time"

// GenerationJobAccepted is returned when a generation job is triggered.
type GenerationJobAccepted struct {
	JobID          string `json:"jobId"`
	IdempotencyKey string `json:"idempotencyKey"`
	Status         string `json:"status"`
	Created        bool   `json:"created"`
	ExamID         string `json:"examId,omitempty"`
}

// GenerationStepView is a step record without its memoized result, which may
// hold answer keys.
type GenerationStepView struct {
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	Error      *string    `json:"error,omitempty"`
	ErrorCode  string     `json:"errorCode,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// GenerationJobView is the public projection of a generation job.
type GenerationJobView struct {
	ID             string               `json:"id"`
	IdempotencyKey string               `json:"idempotencyKey"`
	Kind           string               `json:"kind"`
	Status         string               `json:"status"`
	CurrentStep    int                  `json:"currentStep"`
	Steps          []GenerationStepView `json:"steps"`
	FatalReason    *string              `json:"fatalReason,omitempty"`
	Deliveries     int                  `json:"deliveries"`
	CreatedAt      time.Time            `json:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt"`
	FinishedAt     *time.Time           `json:"finishedAt,omitempty"`
}
