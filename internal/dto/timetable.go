package dto

// GenerateTimetableRequest triggers a GENERATE_TIMETABLE job for a class and term.
type GenerateTimetableRequest struct {
	ClassID       string `json:"classId" validate:"required"`
	TermID        string `json:"termId" validate:"required"`
	StartTime     string `json:"startTime" validate:"required"`
	EndTime       string `json:"endTime" validate:"required"`
	PeriodsPerDay int    `json:"periodsPerDay" validate:"required,min=1,max=16"`
}

// TimetableQuery selects the committed timetable of a class.
type TimetableQuery struct {
	ClassID string `form:"-" validate:"required"`
	TermID  string `form:"termId" validate:"required"`
	Format  string `form:"format" validate:"omitempty,oneof=csv pdf"`
}
