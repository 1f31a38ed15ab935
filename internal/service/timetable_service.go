package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-generation-core/internal/models"
	appErrors "github.com/noah-isme/sma-generation-core/pkg/errors"
	"github.com/noah-isme/sma-generation-core/pkg/export"
)

// Timetable export formats.
const (
	ExportCSV = "csv"
	ExportPDF = "pdf"
)

type timetableReader interface {
	FindByClassTerm(ctx context.Context, classID, termID string) (*models.Timetable, error)
	DeleteByClassTerm(ctx context.Context, classID, termID string) error
}

type tableRenderer interface {
	Render(table export.Table) ([]byte, error)
	ContentType() string
	Extension() string
}

// ExportedFile is a rendered timetable ready for download.
type ExportedFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// TimetableService reads, exports and removes committed timetables.
type TimetableService struct {
	timetables timetableReader
	classes    workflowClassReader
	subjects   workflowSubjectReader
	teachers   workflowTeacherReader
	renderers  map[string]tableRenderer
	logger     *zap.Logger
}

// NewTimetableService constructs the service with CSV and PDF renderers.
func NewTimetableService(timetables timetableReader, classes workflowClassReader, subjects workflowSubjectReader, teachers workflowTeacherReader, logger *zap.Logger) *TimetableService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimetableService{
		timetables: timetables,
		classes:    classes,
		subjects:   subjects,
		teachers:   teachers,
		renderers: map[string]tableRenderer{
			ExportCSV: export.NewCSVExporter(),
			ExportPDF: export.NewPDFExporter(),
		},
		logger: logger,
	}
}

// Get returns the committed timetable for a class and term.
func (s *TimetableService) Get(ctx context.Context, classID, termID string) (*models.Timetable, error) {
	if classID == "" || termID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "classId and termId are required")
	}
	timetable, err := s.timetables.FindByClassTerm(ctx, classID, termID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "timetable not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable")
	}
	return timetable, nil
}

// Delete removes the committed timetable for a class and term.
func (s *TimetableService) Delete(ctx context.Context, classID, termID string) error {
	if err := s.timetables.DeleteByClassTerm(ctx, classID, termID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "timetable not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete timetable")
	}
	s.logger.Sugar().Infow("timetable deleted", "class_id", classID, "term_id", termID)
	return nil
}

// Export renders the committed timetable with subject and teacher names.
func (s *TimetableService) Export(ctx context.Context, classID, termID, format string) (*ExportedFile, error) {
	renderer, ok := s.renderers[strings.ToLower(format)]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	timetable, err := s.Get(ctx, classID, termID)
	if err != nil {
		return nil, err
	}
	table, err := s.buildTable(ctx, timetable)
	if err != nil {
		return nil, err
	}
	body, err := renderer.Render(table)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render timetable")
	}
	return &ExportedFile{
		Filename:    fmt.Sprintf("timetable_%s_%s.%s", sanitizeFilename(classID), sanitizeFilename(termID), renderer.Extension()),
		ContentType: renderer.ContentType(),
		Body:        body,
	}, nil
}

func (s *TimetableService) buildTable(ctx context.Context, timetable *models.Timetable) (export.Table, error) {
	className := timetable.ClassID
	if class, err := s.classes.FindByID(ctx, timetable.ClassID); err == nil {
		className = class.Name
	} else if !errors.Is(err, sql.ErrNoRows) {
		return export.Table{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}

	subjectIDs, teacherIDs := referencedIDs(timetable.Schedule)
	subjectNames := make(map[string]string, len(subjectIDs))
	if len(subjectIDs) > 0 {
		subjects, err := s.subjects.ListByIDs(ctx, subjectIDs)
		if err != nil {
			return export.Table{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subjects")
		}
		for _, subject := range subjects {
			subjectNames[subject.ID] = subject.Name
		}
	}
	teacherNames := make(map[string]string, len(teacherIDs))
	if len(teacherIDs) > 0 {
		teachers, err := s.teachers.List(ctx, models.TeacherFilter{IDs: teacherIDs})
		if err != nil {
			return export.Table{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teachers")
		}
		for _, teacher := range teachers {
			teacherNames[teacher.ID] = teacher.FullName
		}
	}

	table := export.Table{
		Title:   fmt.Sprintf("Timetable %s (%s)", className, timetable.TermID),
		Headers: []string{"Day", "Start", "End", "Kind", "Subject", "Teacher"},
	}
	for _, day := range timetable.Schedule {
		for _, slot := range day.Slots {
			table.Rows = append(table.Rows, []string{
				string(day.Day),
				slot.StartTime,
				slot.EndTime,
				string(slot.Kind),
				displayName(slot.SubjectID, subjectNames),
				displayName(slot.TeacherID, teacherNames),
			})
		}
	}
	return table, nil
}

func referencedIDs(schedule models.WeekSchedule) (subjects, teachers []string) {
	seenSubjects := map[string]bool{}
	seenTeachers := map[string]bool{}
	for _, day := range schedule {
		for _, slot := range day.Lessons() {
			if slot.SubjectID != nil && !seenSubjects[*slot.SubjectID] {
				seenSubjects[*slot.SubjectID] = true
				subjects = append(subjects, *slot.SubjectID)
			}
			if slot.TeacherID != nil && !seenTeachers[*slot.TeacherID] {
				seenTeachers[*slot.TeacherID] = true
				teachers = append(teachers, *slot.TeacherID)
			}
		}
	}
	return subjects, teachers
}

func displayName(id *string, names map[string]string) string {
	if id == nil {
		return ""
	}
	if name := names[*id]; name != "" {
		return name
	}
	return *id
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
