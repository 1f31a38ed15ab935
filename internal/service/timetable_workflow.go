package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-generation-core/internal/models"
	"github.com/noah-isme/sma-generation-core/pkg/config"
	appErrors "github.com/noah-isme/sma-generation-core/pkg/errors"
)

// Step names of the GENERATE_TIMETABLE workflow.
const (
	StepFetchClassContext = "fetch-class-context"
	StepGenerateSchedule  = "generate-schedule"
	StepPersistTimetable  = "persist-timetable"
)

type workflowClassReader interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
	Exists(ctx context.Context, id string) (bool, error)
}

type workflowSubjectReader interface {
	ListByIDs(ctx context.Context, ids []string) ([]models.Subject, error)
}

type workflowTeacherReader interface {
	List(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, error)
}

type workflowTimetableStore interface {
	ListByTerm(ctx context.Context, termID string) ([]models.Timetable, error)
	Replace(ctx context.Context, timetable *models.Timetable, check func(committed []models.Timetable) error) error
}

// classContext is the memoized result of fetch-class-context.
type classContext struct {
	Class    models.Class     `json:"class"`
	Subjects []models.Subject `json:"subjects"`
	Teachers []models.Teacher `json:"teachers"`
}

type persistedTimetable struct {
	TimetableID string `json:"timetableId"`
	ClassID     string `json:"classId"`
	TermID      string `json:"termId"`
}

// TimetableWorkflowConfig selects how generate-schedule produces a schedule.
type TimetableWorkflowConfig struct {
	Strategy string
}

// TimetableWorkflow implements GENERATE_TIMETABLE.
type TimetableWorkflow struct {
	classes    workflowClassReader
	subjects   workflowSubjectReader
	teachers   workflowTeacherReader
	timetables workflowTimetableStore
	scheduler  *TimetableScheduler
	generator  ContentGenerator
	validator  *validator.Validate
	logger     *zap.Logger
	strategy   string
}

// NewTimetableWorkflow wires the timetable workflow. generator may be nil, in
// which case the constraint scheduler is always used.
func NewTimetableWorkflow(
	classes workflowClassReader,
	subjects workflowSubjectReader,
	teachers workflowTeacherReader,
	timetables workflowTimetableStore,
	scheduler *TimetableScheduler,
	generator ContentGenerator,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg TimetableWorkflowConfig,
) *TimetableWorkflow {
	if scheduler == nil {
		scheduler = NewTimetableScheduler(SchedulerConfig{})
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Strategy == "" {
		cfg.Strategy = config.StrategyScheduler
	}
	return &TimetableWorkflow{
		classes:    classes,
		subjects:   subjects,
		teachers:   teachers,
		timetables: timetables,
		scheduler:  scheduler,
		generator:  generator,
		validator:  validate,
		logger:     logger,
		strategy:   cfg.Strategy,
	}
}

// Kind implements Workflow.
func (w *TimetableWorkflow) Kind() models.GenerationJobKind {
	return models.JobKindGenerateTimetable
}

// Steps implements Workflow.
func (w *TimetableWorkflow) Steps() []WorkflowStep {
	return []WorkflowStep{
		{Name: StepFetchClassContext, Run: w.fetchClassContext},
		{Name: StepGenerateSchedule, Run: w.generateSchedule},
		{Name: StepPersistTimetable, Run: w.persistTimetable},
	}
}

// TargetExists implements Workflow.
func (w *TimetableWorkflow) TargetExists(ctx context.Context, job *models.GenerationJob) (bool, error) {
	payload, err := w.payload(&StepContext{Job: job})
	if err != nil {
		return false, err
	}
	return w.classes.Exists(ctx, payload.ClassID)
}

func (w *TimetableWorkflow) payload(sc *StepContext) (models.TimetableJobPayload, error) {
	var payload models.TimetableJobPayload
	if err := sc.Payload(&payload); err != nil {
		return payload, err
	}
	if err := w.validator.Struct(payload); err != nil {
		return payload, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid timetable job payload")
	}
	return payload, nil
}

func (w *TimetableWorkflow) fetchClassContext(ctx context.Context, sc *StepContext) (interface{}, error) {
	payload, err := w.payload(sc)
	if err != nil {
		return nil, err
	}
	class, err := w.classes.FindByID(ctx, payload.ClassID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrClassNotFound, fmt.Sprintf("class %s not found", payload.ClassID))
		}
		return nil, fmt.Errorf("load class: %w", err)
	}

	subjectIDs := class.OrderedSubjectIDs()
	if len(subjectIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrEmptySubjectList, fmt.Sprintf("class %s has no subjects", class.ID))
	}
	subjects, err := w.subjects.ListByIDs(ctx, subjectIDs)
	if err != nil {
		return nil, err
	}

	var teacherIDs []string
	for _, subject := range subjects {
		teacherIDs = append(teacherIDs, subject.TeacherIDs...)
	}
	teachers, err := w.teachers.List(ctx, models.TeacherFilter{SubjectIDs: subjectIDs, IDs: teacherIDs, ActiveOnly: true})
	if err != nil {
		return nil, err
	}

	result := classContext{Class: *class, Subjects: subjects, Teachers: teachers}
	if _, err := newScheduleContext(ScheduleInput{Class: result.Class, Subjects: subjects, Teachers: teachers}); err != nil {
		return nil, err
	}
	return result, nil
}

func (w *TimetableWorkflow) generateSchedule(ctx context.Context, sc *StepContext) (interface{}, error) {
	payload, err := w.payload(sc)
	if err != nil {
		return nil, err
	}
	var cc classContext
	if err := sc.Result(StepFetchClassContext, &cc); err != nil {
		return nil, err
	}
	committed, err := w.timetables.ListByTerm(ctx, payload.TermID)
	if err != nil {
		return nil, err
	}
	input := ScheduleInput{
		Class:     cc.Class,
		TermID:    payload.TermID,
		Subjects:  cc.Subjects,
		Teachers:  cc.Teachers,
		Window:    payload.Window,
		Committed: committed,
	}

	if w.strategy == config.StrategyGenerator && w.generator != nil {
		raw, err := w.generator.Generate(ctx, BuildTimetablePrompt(cc.Class.Name, input))
		if err != nil {
			return nil, err
		}
		schedule, err := ParseTimetable(raw, input)
		if err != nil {
			return nil, err
		}
		w.logger.Sugar().Infow("timetable produced by generator", "job_id", sc.Job.ID, "class_id", cc.Class.ID)
		return schedule, nil
	}

	timetable, err := w.scheduler.Generate(input)
	if err != nil {
		return nil, err
	}
	return timetable.Schedule, nil
}

func (w *TimetableWorkflow) persistTimetable(ctx context.Context, sc *StepContext) (interface{}, error) {
	payload, err := w.payload(sc)
	if err != nil {
		return nil, err
	}
	var cc classContext
	if err := sc.Result(StepFetchClassContext, &cc); err != nil {
		return nil, err
	}
	var schedule models.WeekSchedule
	if err := sc.Result(StepGenerateSchedule, &schedule); err != nil {
		return nil, err
	}

	// The memoized schedule was checked against the timetables committed at
	// generation time. Another class may have committed since, so the store
	// re-runs the clash check under its per-term lock.
	input := ScheduleInput{
		Class:    cc.Class,
		TermID:   payload.TermID,
		Subjects: cc.Subjects,
		Teachers: cc.Teachers,
		Window:   payload.Window,
	}
	check := func(committed []models.Timetable) error {
		input.Committed = committed
		if err := ValidateTimetable(input, schedule); err != nil {
			return appErrors.CloneWrap(appErrors.ErrScheduleConflict, err, fmt.Sprintf("schedule for class %s is stale", payload.ClassID))
		}
		return nil
	}

	jobID := sc.Job.ID
	timetable := &models.Timetable{
		ClassID:  payload.ClassID,
		TermID:   payload.TermID,
		Schedule: schedule,
		JobID:    &jobID,
	}
	if err := w.timetables.Replace(ctx, timetable, check); err != nil {
		if errors.Is(err, appErrors.ErrScheduleConflict) {
			w.logger.Sugar().Warnw("memoized schedule clashes with committed timetables", "job_id", sc.Job.ID, "class_id", payload.ClassID, "error", err)
			return nil, rewindTo(StepGenerateSchedule, err)
		}
		return nil, err
	}
	return persistedTimetable{TimetableID: timetable.ID, ClassID: timetable.ClassID, TermID: timetable.TermID}, nil
}
