package models

import (
	"database/sql/driver"
	"time"
)

// Weekday names the five school days a timetable covers.
type Weekday string

const (
	Monday    Weekday = "Monday"
	Tuesday   Weekday = "Tuesday"
	Wednesday Weekday = "Wednesday"
	Thursday  Weekday = "Thursday"
	Friday    Weekday = "Friday"
)

// SchoolDays lists timetable days in calendar order.
var SchoolDays = []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday}

// SlotKind classifies a timetable slot.
type SlotKind string

const (
	SlotLesson SlotKind = "LESSON"
	SlotBreak  SlotKind = "BREAK"
	SlotLunch  SlotKind = "LUNCH"
	SlotFree   SlotKind = "FREE"
)

// TimetableSlot is one interval in a day. Only lessons carry subject and teacher.
type TimetableSlot struct {
	Day       Weekday  `json:"day"`
	StartTime string   `json:"startTime"`
	EndTime   string   `json:"endTime"`
	Kind      SlotKind `json:"kind"`
	SubjectID *string  `json:"subjectId,omitempty"`
	TeacherID *string  `json:"teacherId,omitempty"`
}

// DaySchedule is the ordered slot sequence of one day.
type DaySchedule struct {
	Day   Weekday         `json:"day"`
	Slots []TimetableSlot `json:"slots"`
}

// Lessons returns only the lesson slots of the day.
func (d DaySchedule) Lessons() []TimetableSlot {
	lessons := make([]TimetableSlot, 0, len(d.Slots))
	for _, slot := range d.Slots {
		if slot.Kind == SlotLesson {
			lessons = append(lessons, slot)
		}
	}
	return lessons
}

// WeekSchedule is persisted as JSONB.
type WeekSchedule []DaySchedule

// Value marshals the schedule for persistence.
func (w WeekSchedule) Value() (driver.Value, error) {
	if w == nil {
		w = WeekSchedule{}
	}
	return marshalColumn([]DaySchedule(w), "week schedule")
}

// Scan unmarshals a JSONB schedule.
func (w *WeekSchedule) Scan(value interface{}) error {
	*w = WeekSchedule{}
	return scanColumn(value, (*[]DaySchedule)(w), "week schedule")
}

// Timetable is the committed weekly schedule for a (class, term) pair.
type Timetable struct {
	ID        string       `db:"id" json:"id"`
	ClassID   string       `db:"class_id" json:"class_id"`
	TermID    string       `db:"term_id" json:"term_id"`
	Schedule  WeekSchedule `db:"schedule" json:"schedule"`
	JobID     *string      `db:"job_id" json:"job_id,omitempty"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

// TimetableWindow bounds every generated day.
type TimetableWindow struct {
	StartTime     string `json:"startTime" validate:"required"`
	EndTime       string `json:"endTime" validate:"required"`
	PeriodsPerDay int    `json:"periodsPerDay" validate:"required,min=1,max=16"`
}
