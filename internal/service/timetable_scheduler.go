package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/noah-isme/sma-generation-core/internal/models"
	appErrors "github.com/noah-isme/sma-generation-core/pkg/errors"
)

const (
	defaultBreakMinutes = 10
	defaultLunchMinutes = 30
	lessonsBeforeLunch  = 5
	lessonsBeforeBreak  = 2
	clockLayout         = "15:04"
	minutesPerDay       = 24 * 60
)

// ScheduleInput is everything the scheduler needs to build one class timetable.
type ScheduleInput struct {
	Class     models.Class
	TermID    string
	Subjects  []models.Subject
	Teachers  []models.Teacher
	Window    models.TimetableWindow
	Committed []models.Timetable
}

// SchedulerConfig tunes the fixed-length non-lesson slots.
type SchedulerConfig struct {
	BreakMinutes int
	LunchMinutes int
}

// TimetableScheduler builds clash-free weekly timetables. It has no side effects.
type TimetableScheduler struct {
	breakMinutes int
	lunchMinutes int
}

// NewTimetableScheduler constructs a scheduler applying defaults.
func NewTimetableScheduler(cfg SchedulerConfig) *TimetableScheduler {
	if cfg.BreakMinutes <= 0 {
		cfg.BreakMinutes = defaultBreakMinutes
	}
	if cfg.LunchMinutes <= 0 {
		cfg.LunchMinutes = defaultLunchMinutes
	}
	return &TimetableScheduler{breakMinutes: cfg.BreakMinutes, lunchMinutes: cfg.LunchMinutes}
}

type slotTemplate struct {
	kind  models.SlotKind
	start int
	end   int
}

type interval struct {
	start int
	end   int
}

func (i interval) overlaps(other interval) bool {
	return i.start < other.end && other.start < i.end
}

type lessonCell struct {
	day  models.Weekday
	slot int
	span interval
}

// dayLayout returns the deterministic slot skeleton of a single day.
func (s *TimetableScheduler) dayLayout(window models.TimetableWindow) ([]slotTemplate, error) {
	start, err := parseClock(window.StartTime)
	if err != nil {
		return nil, appErrors.CloneWrap(appErrors.ErrInvalidWindow, err, "startTime must be HH:MM")
	}
	end, err := parseClock(window.EndTime)
	if err != nil {
		return nil, appErrors.CloneWrap(appErrors.ErrInvalidWindow, err, "endTime must be HH:MM")
	}
	if end <= start {
		return nil, appErrors.Clone(appErrors.ErrInvalidWindow, "endTime must be after startTime")
	}
	periods := window.PeriodsPerDay
	if periods <= 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidWindow, "periodsPerDay must be positive")
	}

	// after[i] is the non-lesson slot following lesson i+1, if any.
	after := make([]models.SlotKind, periods)
	pauses := 0
	consecutive := 0
	for lesson := 1; lesson < periods; lesson++ {
		consecutive++
		switch {
		case lesson == lessonsBeforeLunch:
			after[lesson-1] = models.SlotLunch
			pauses += s.lunchMinutes
			consecutive = 0
		case consecutive == lessonsBeforeBreak:
			after[lesson-1] = models.SlotBreak
			pauses += s.breakMinutes
			consecutive = 0
		}
	}

	lessonLength := (end - start - pauses) / periods
	if lessonLength <= 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidWindow, fmt.Sprintf("window %s-%s is too short for %d periods", window.StartTime, window.EndTime, periods))
	}

	layout := make([]slotTemplate, 0, periods*2)
	cursor := start
	for i := 0; i < periods; i++ {
		layout = append(layout, slotTemplate{kind: models.SlotLesson, start: cursor, end: cursor + lessonLength})
		cursor += lessonLength
		switch after[i] {
		case models.SlotLunch:
			layout = append(layout, slotTemplate{kind: models.SlotLunch, start: cursor, end: cursor + s.lunchMinutes})
			cursor += s.lunchMinutes
		case models.SlotBreak:
			layout = append(layout, slotTemplate{kind: models.SlotBreak, start: cursor, end: cursor + s.breakMinutes})
			cursor += s.breakMinutes
		}
	}
	if cursor < end {
		layout = append(layout, slotTemplate{kind: models.SlotFree, start: cursor, end: end})
	}
	return layout, nil
}

// Generate assigns a (subject, teacher) pair to every lesson cell of the week.
// It either returns a complete timetable or an error; never a partial result.
func (s *TimetableScheduler) Generate(input ScheduleInput) (*models.Timetable, error) {
	sc, err := newScheduleContext(input)
	if err != nil {
		return nil, err
	}
	layout, err := s.dayLayout(input.Window)
	if err != nil {
		return nil, err
	}

	cells := make([]lessonCell, 0, len(models.SchoolDays)*input.Window.PeriodsPerDay)
	for _, day := range models.SchoolDays {
		for idx, tpl := range layout {
			if tpl.kind == models.SlotLesson {
				cells = append(cells, lessonCell{day: day, slot: idx, span: interval{start: tpl.start, end: tpl.end}})
			}
		}
	}

	// Availability depends only on other classes, so a non-empty domain for every
	// cell guarantees the greedy pass below completes.
	for _, cell := range cells {
		if !sc.cellHasCandidate(cell) {
			return nil, appErrors.Clone(appErrors.ErrUnsatisfiableConstraints,
				fmt.Sprintf("no qualified teacher is free on %s at %s", cell.day, formatClock(cell.span.start)))
		}
	}

	type assignment struct{ subjectID, teacherID string }
	assigned := make(map[models.Weekday]map[int]assignment, len(models.SchoolDays))
	load := make(map[string]int)
	rotation := 0
	n := len(sc.subjects)
	for _, cell := range cells {
		placed := false
		for k := 0; k < n && !placed; k++ {
			subjectID := sc.subjects[(rotation+k)%n]
			for _, teacherID := range sc.rankTeachers(subjectID, load) {
				if !sc.isFree(teacherID, cell) {
					continue
				}
				if assigned[cell.day] == nil {
					assigned[cell.day] = make(map[int]assignment)
				}
				assigned[cell.day][cell.slot] = assignment{subjectID: subjectID, teacherID: teacherID}
				load[teacherID]++
				rotation = (rotation + k + 1) % n
				placed = true
				break
			}
		}
		if !placed {
			return nil, appErrors.Clone(appErrors.ErrUnsatisfiableConstraints,
				fmt.Sprintf("unable to fill %s at %s", cell.day, formatClock(cell.span.start)))
		}
	}

	schedule := make(models.WeekSchedule, 0, len(models.SchoolDays))
	for _, day := range models.SchoolDays {
		slots := make([]models.TimetableSlot, 0, len(layout))
		for idx, tpl := range layout {
			slot := models.TimetableSlot{
				Day:       day,
				StartTime: formatClock(tpl.start),
				EndTime:   formatClock(tpl.end),
				Kind:      tpl.kind,
			}
			if tpl.kind == models.SlotLesson {
				a := assigned[day][idx]
				subjectID, teacherID := a.subjectID, a.teacherID
				slot.SubjectID = &subjectID
				slot.TeacherID = &teacherID
			}
			slots = append(slots, slot)
		}
		schedule = append(schedule, models.DaySchedule{Day: day, Slots: slots})
	}

	return &models.Timetable{
		ClassID:  input.Class.ID,
		TermID:   input.TermID,
		Schedule: schedule,
	}, nil
}

// ValidateTimetable checks a candidate schedule against the class context: day
// order, window coverage, slot shape, teacher qualification and clash-freedom
// against other classes' committed timetables.
func ValidateTimetable(input ScheduleInput, schedule models.WeekSchedule) error {
	sc, err := newScheduleContext(input)
	if err != nil {
		return err
	}
	start, err := parseClock(input.Window.StartTime)
	if err != nil {
		return appErrors.CloneWrap(appErrors.ErrInvalidWindow, err, "startTime must be HH:MM")
	}
	end, err := parseClock(input.Window.EndTime)
	if err != nil {
		return appErrors.CloneWrap(appErrors.ErrInvalidWindow, err, "endTime must be HH:MM")
	}
	if len(schedule) != len(models.SchoolDays) {
		return fmt.Errorf("expected %d days, got %d", len(models.SchoolDays), len(schedule))
	}

	for i, day := range schedule {
		if day.Day != models.SchoolDays[i] {
			return fmt.Errorf("day %d must be %s, got %q", i+1, models.SchoolDays[i], day.Day)
		}
		if len(day.Slots) == 0 {
			return fmt.Errorf("%s has no slots", day.Day)
		}
		cursor := start
		for _, slot := range day.Slots {
			if slot.Day != "" && slot.Day != day.Day {
				return fmt.Errorf("slot %s-%s is tagged %s inside %s", slot.StartTime, slot.EndTime, slot.Day, day.Day)
			}
			from, err := parseClock(slot.StartTime)
			if err != nil {
				return fmt.Errorf("%s: invalid startTime %q", day.Day, slot.StartTime)
			}
			to, err := parseClock(slot.EndTime)
			if err != nil {
				return fmt.Errorf("%s: invalid endTime %q", day.Day, slot.EndTime)
			}
			if from != cursor {
				return fmt.Errorf("%s: slot starting %s leaves a gap or overlap at %s", day.Day, slot.StartTime, formatClock(cursor))
			}
			if to <= from {
				return fmt.Errorf("%s: slot %s-%s is empty", day.Day, slot.StartTime, slot.EndTime)
			}
			cursor = to

			switch slot.Kind {
			case models.SlotLesson:
				if slot.SubjectID == nil || slot.TeacherID == nil || *slot.SubjectID == "" || *slot.TeacherID == "" {
					return fmt.Errorf("%s %s: lesson requires subjectId and teacherId", day.Day, slot.StartTime)
				}
				if !sc.qualified(*slot.SubjectID, *slot.TeacherID) {
					return fmt.Errorf("%s %s: teacher %s is not qualified for subject %s", day.Day, slot.StartTime, *slot.TeacherID, *slot.SubjectID)
				}
				if !sc.isFree(*slot.TeacherID, lessonCell{day: day.Day, span: interval{start: from, end: to}}) {
					return fmt.Errorf("%s %s: teacher %s is already booked by another class", day.Day, slot.StartTime, *slot.TeacherID)
				}
			case models.SlotBreak, models.SlotLunch, models.SlotFree:
				if slot.SubjectID != nil || slot.TeacherID != nil {
					return fmt.Errorf("%s %s: %s slot must not carry subject or teacher", day.Day, slot.StartTime, slot.Kind)
				}
			default:
				return fmt.Errorf("%s %s: unknown slot kind %q", day.Day, slot.StartTime, slot.Kind)
			}
		}
		if cursor != end {
			return fmt.Errorf("%s ends at %s instead of %s", day.Day, formatClock(cursor), input.Window.EndTime)
		}
	}
	return nil
}

type scheduleContext struct {
	subjects  []string
	teachers  map[string][]string
	qualifies map[string]map[string]bool
	busy      map[string]map[models.Weekday][]interval
}

func newScheduleContext(input ScheduleInput) (*scheduleContext, error) {
	subjectIDs := input.Class.OrderedSubjectIDs()
	if len(subjectIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrEmptySubjectList, fmt.Sprintf("class %s has no subjects", input.Class.ID))
	}

	inactive := make(map[string]bool)
	for _, teacher := range input.Teachers {
		if !teacher.Active {
			inactive[teacher.ID] = true
		}
	}
	bySubject := make(map[string]models.Subject, len(input.Subjects))
	for _, subject := range input.Subjects {
		bySubject[subject.ID] = subject
	}

	sc := &scheduleContext{
		subjects:  subjectIDs,
		teachers:  make(map[string][]string, len(subjectIDs)),
		qualifies: make(map[string]map[string]bool, len(subjectIDs)),
		busy:      make(map[string]map[models.Weekday][]interval),
	}
	for _, subjectID := range subjectIDs {
		set := make(map[string]bool)
		for _, teacherID := range bySubject[subjectID].TeacherIDs {
			if teacherID != "" && !inactive[teacherID] {
				set[teacherID] = true
			}
		}
		for _, teacher := range input.Teachers {
			if teacher.Active && teacher.Teaches(subjectID) {
				set[teacher.ID] = true
			}
		}
		if len(set) == 0 {
			return nil, appErrors.Clone(appErrors.ErrNoQualifiedTeacher, fmt.Sprintf("subject %s has no qualified teacher", subjectID))
		}
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		sc.teachers[subjectID] = ids
		sc.qualifies[subjectID] = set
	}

	for _, timetable := range input.Committed {
		if timetable.ClassID == input.Class.ID {
			continue
		}
		for _, day := range timetable.Schedule {
			for _, slot := range day.Lessons() {
				if slot.TeacherID == nil {
					continue
				}
				from, errFrom := parseClock(slot.StartTime)
				to, errTo := parseClock(slot.EndTime)
				if errFrom != nil || errTo != nil {
					continue
				}
				slotDay := slot.Day
				if slotDay == "" {
					slotDay = day.Day
				}
				byDay := sc.busy[*slot.TeacherID]
				if byDay == nil {
					byDay = make(map[models.Weekday][]interval)
					sc.busy[*slot.TeacherID] = byDay
				}
				byDay[slotDay] = append(byDay[slotDay], interval{start: from, end: to})
			}
		}
	}
	return sc, nil
}

func (sc *scheduleContext) qualified(subjectID, teacherID string) bool {
	return sc.qualifies[subjectID][teacherID]
}

func (sc *scheduleContext) isFree(teacherID string, cell lessonCell) bool {
	for _, booked := range sc.busy[teacherID][cell.day] {
		if booked.overlaps(cell.span) {
			return false
		}
	}
	return true
}

func (sc *scheduleContext) cellHasCandidate(cell lessonCell) bool {
	for _, subjectID := range sc.subjects {
		for _, teacherID := range sc.teachers[subjectID] {
			if sc.isFree(teacherID, cell) {
				return true
			}
		}
	}
	return false
}

// rankTeachers orders qualified teachers by weekly load, then by id.
func (sc *scheduleContext) rankTeachers(subjectID string, load map[string]int) []string {
	ranked := append([]string(nil), sc.teachers[subjectID]...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if load[ranked[i]] != load[ranked[j]] {
			return load[ranked[i]] < load[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	return ranked
}

func parseClock(value string) (int, error) {
	t, err := time.Parse(clockLayout, value)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func formatClock(minutes int) string {
	minutes = ((minutes % minutesPerDay) + minutesPerDay) % minutesPerDay
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
