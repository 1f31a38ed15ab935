package service

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/sma-generation-core/internal/models"
	appErrors "github.com/noah-isme/sma-generation-core/pkg/errors"
)

type generatedPeriod struct {
	Subject   string `json:"subject"`
	Teacher   string `json:"teacher"`
	Kind      string `json:"kind"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type generatedDay struct {
	Day     string            `json:"day"`
	Periods []generatedPeriod `json:"periods"`
}

// ParseTimetable decodes a generated {"schedule": [...]} document, fills the
// uncovered parts of the window with FREE slots and validates the result with
// ValidateTimetable. Failures are reported as MALFORMED_RESPONSE.
func ParseTimetable(raw string, input ScheduleInput) (models.WeekSchedule, error) {
	var doc struct {
		Schedule []generatedDay `json:"schedule"`
	}
	if err := json.Unmarshal([]byte(StripFences(raw)), &doc); err != nil {
		return nil, appErrors.CloneWrap(appErrors.ErrMalformedResponse, err, "generated timetable is not valid JSON")
	}

	windowStart, errStart := parseClock(input.Window.StartTime)
	windowEnd, errEnd := parseClock(input.Window.EndTime)
	if errStart != nil || errEnd != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidWindow, "window times must be HH:MM")
	}

	byDay := make(map[models.Weekday][]generatedPeriod, len(doc.Schedule))
	for _, day := range doc.Schedule {
		name := models.Weekday(strings.TrimSpace(day.Day))
		if _, dup := byDay[name]; dup {
			return nil, appErrors.Clone(appErrors.ErrMalformedResponse, fmt.Sprintf("day %s appears twice", name))
		}
		byDay[name] = day.Periods
	}

	schedule := make(models.WeekSchedule, 0, len(models.SchoolDays))
	for _, day := range models.SchoolDays {
		periods, ok := byDay[day]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrMalformedResponse, fmt.Sprintf("generated timetable is missing %s", day))
		}
		slots, err := normalizeGeneratedDay(day, periods, windowStart, windowEnd)
		if err != nil {
			return nil, appErrors.CloneWrap(appErrors.ErrMalformedResponse, err, err.Error())
		}
		schedule = append(schedule, models.DaySchedule{Day: day, Slots: slots})
	}

	if err := ValidateTimetable(input, schedule); err != nil {
		return nil, appErrors.CloneWrap(appErrors.ErrMalformedResponse, err, "generated timetable violates constraints: "+err.Error())
	}
	return schedule, nil
}

func normalizeGeneratedDay(day models.Weekday, periods []generatedPeriod, windowStart, windowEnd int) ([]models.TimetableSlot, error) {
	type timed struct {
		period generatedPeriod
		start  int
		end    int
	}
	entries := make([]timed, 0, len(periods))
	for _, period := range periods {
		start, err := parseClock(strings.TrimSpace(period.StartTime))
		if err != nil {
			return nil, fmt.Errorf("%s: invalid startTime %q", day, period.StartTime)
		}
		end, err := parseClock(strings.TrimSpace(period.EndTime))
		if err != nil {
			return nil, fmt.Errorf("%s: invalid endTime %q", day, period.EndTime)
		}
		entries = append(entries, timed{period: period, start: start, end: end})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].start < entries[j].start })

	slots := make([]models.TimetableSlot, 0, len(entries)+2)
	cursor := windowStart
	for _, entry := range entries {
		if entry.start > cursor {
			slots = append(slots, models.TimetableSlot{Day: day, StartTime: formatClock(cursor), EndTime: formatClock(entry.start), Kind: models.SlotFree})
		}
		slot := models.TimetableSlot{Day: day, StartTime: formatClock(entry.start), EndTime: formatClock(entry.end)}
		kind := models.SlotKind(strings.ToUpper(strings.TrimSpace(entry.period.Kind)))
		subject := strings.TrimSpace(entry.period.Subject)
		teacher := strings.TrimSpace(entry.period.Teacher)
		switch {
		case kind == "" && subject != "":
			kind = models.SlotLesson
		case kind == "":
			kind = models.SlotFree
		}
		slot.Kind = kind
		if kind == models.SlotLesson {
			slot.SubjectID = &subject
			slot.TeacherID = &teacher
		}
		slots = append(slots, slot)
		if entry.end > cursor {
			cursor = entry.end
		}
	}
	if cursor < windowEnd {
		slots = append(slots, models.TimetableSlot{Day: day, StartTime: formatClock(cursor), EndTime: formatClock(windowEnd), Kind: models.SlotFree})
	}
	return slots, nil
}
