package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Activity actions recorded for user-initiated operations.
const (
	ActivityTimetableRequested = "TIMETABLE_GENERATION_REQUESTED"
	ActivityExamRequested      = "EXAM_GENERATION_REQUESTED"
	ActivityExamStatusChanged  = "EXAM_STATUS_CHANGED"
	ActivityExamSubmitted      = "EXAM_SUBMITTED"
)

// Activity resources.
const (
	ActivityResourceGenerationJob = "generation_job"
	ActivityResourceExam          = "exam"
	ActivityResourceSubmission    = "submission"
)

// ActivityLog is one entry of the user activity trail.
type ActivityLog struct {
	ID         string         `db:"id" json:"id"`
	ActorID    *string        `db:"actor_id" json:"actor_id,omitempty"`
	Action     string         `db:"action" json:"action"`
	Resource   string         `db:"resource" json:"resource"`
	ResourceID *string        `db:"resource_id" json:"resource_id,omitempty"`
	Details    types.JSONText `db:"details" json:"details,omitempty"`
	IPAddress  string         `db:"ip_address" json:"ip_address"`
	UserAgent  string         `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}
