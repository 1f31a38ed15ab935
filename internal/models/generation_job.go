package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// GenerationJobKind enumerates the asynchronous generation workflows.
type GenerationJobKind string

const (
	JobKindGenerateTimetable     GenerationJobKind = "GENERATE_TIMETABLE"
	JobKindGenerateExamQuestions GenerationJobKind = "GENERATE_EXAM_QUESTIONS"
)

// GenerationJobStatus captures the job state machine.
type GenerationJobStatus string

const (
	JobStatusPending GenerationJobStatus = "PENDING"
	JobStatusRunning GenerationJobStatus = "RUNNING"
	JobStatusDone    GenerationJobStatus = "DONE"
	JobStatusFatal   GenerationJobStatus = "FATAL"
)

// Terminal reports whether no further deliveries should run the job.
func (s GenerationJobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFatal
}

// StepStatus captures the state of a single workflow step.
type StepStatus string

const (
	StepPending StepStatus = "PENDING"
	StepDone    StepStatus = "DONE"
	StepFailed  StepStatus = "FAILED"
)

// StepRecord memoizes the outcome of one step.
type StepRecord struct {
	Name       string          `json:"name"`
	Status     StepStatus      `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *string         `json:"error,omitempty"`
	ErrorCode  string          `json:"errorCode,omitempty"`
	Attempts   int             `json:"attempts"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
}

// StepRecords is persisted as JSONB.
type StepRecords []StepRecord

// Value marshals step records for persistence.
func (s StepRecords) Value() (driver.Value, error) {
	if s == nil {
		s = StepRecords{}
	}
	return marshalColumn([]StepRecord(s), "step records")
}

// Scan unmarshals JSONB step records.
func (s *StepRecords) Scan(value interface{}) error {
	*s = StepRecords{}
	return scanColumn(value, (*[]StepRecord)(s), "step records")
}

// GenerationJob is one idempotent run of a generation workflow.
type GenerationJob struct {
	ID             string              `db:"id" json:"id"`
	IdempotencyKey string              `db:"idempotency_key" json:"idempotency_key"`
	Kind           GenerationJobKind   `db:"kind" json:"kind"`
	Payload        types.JSONText      `db:"payload" json:"payload"`
	Status         GenerationJobStatus `db:"status" json:"status"`
	CurrentStep    int                 `db:"current_step" json:"current_step"`
	Steps          StepRecords         `db:"steps" json:"steps"`
	FatalReason    *string             `db:"fatal_reason" json:"fatal_reason,omitempty"`
	Deliveries     int                 `db:"deliveries" json:"deliveries"`
	CreatedAt      time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time           `db:"updated_at" json:"updated_at"`
	FinishedAt     *time.Time          `db:"finished_at" json:"finished_at,omitempty"`
}

// TimetableJobPayload is the input of a GENERATE_TIMETABLE job.
type TimetableJobPayload struct {
	ClassID string          `json:"classId" validate:"required"`
	TermID  string          `json:"termId" validate:"required"`
	Window  TimetableWindow `json:"window" validate:"required"`
}

// ExamQuestionsJobPayload is the input of a GENERATE_EXAM_QUESTIONS job.
type ExamQuestionsJobPayload struct {
	ExamID      string `json:"examId" validate:"required"`
	Topic       string `json:"topic" validate:"required"`
	SubjectName string `json:"subjectName" validate:"required"`
	Difficulty  string `json:"difficulty"`
	Count       int    `json:"count" validate:"required,min=1"`
}
