package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-generation-core/internal/dto"
	"github.com/noah-isme/sma-generation-core/internal/models"
	appErrors "github.com/noah-isme/sma-generation-core/pkg/errors"
	"github.com/noah-isme/sma-generation-core/pkg/jobs"
)

const (
	defaultExamDuration   = 60
	defaultExamDueIn      = 7 * 24 * time.Hour
	defaultExamDifficulty = "Medium"
	defaultQuestionCount  = 10
)

type generationJobRepository interface {
	CreateOrGet(ctx context.Context, job *models.GenerationJob) (*models.GenerationJob, bool, error)
	GetByID(ctx context.Context, id string) (*models.GenerationJob, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.GenerationJob, error)
	ListStale(ctx context.Context, before time.Time, limit int) ([]models.GenerationJob, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type generationClassReader interface {
	Exists(ctx context.Context, id string) (bool, error)
}

type generationSubjectReader interface {
	ListByIDs(ctx context.Context, ids []string) ([]models.Subject, error)
}

type generationExamCreator interface {
	Create(ctx context.Context, exam *models.Exam) error
}

type jobRunner interface {
	Run(ctx context.Context, jobID string) (*models.GenerationJob, error)
	MarkFatal(ctx context.Context, jobID string, cause error) error
}

// GenerationServiceConfig tunes trigger defaults and the recovery sweep.
type GenerationServiceConfig struct {
	QuestionCountLimit int
	StaleAfter         time.Duration
	RecoveryBatch      int
}

// GenerationService accepts generation requests, registers idempotent jobs
// and feeds them to the delivery queue.
type GenerationService struct {
	jobs      generationJobRepository
	queue     jobDispatcher
	runner    jobRunner
	classes   generationClassReader
	subjects  generationSubjectReader
	exams     generationExamCreator
	scheduler *TimetableScheduler
	validator *validator.Validate
	logger    *zap.Logger
	cfg       GenerationServiceConfig
	now       func() time.Time
}

// NewGenerationService wires trigger dependencies. The queue may be attached
// later with SetQueue because the queue handler calls back into the service.
func NewGenerationService(
	jobRepo generationJobRepository,
	runner jobRunner,
	classes generationClassReader,
	subjects generationSubjectReader,
	exams generationExamCreator,
	scheduler *TimetableScheduler,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg GenerationServiceConfig,
) *GenerationService {
	if scheduler == nil {
		scheduler = NewTimetableScheduler(SchedulerConfig{})
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QuestionCountLimit <= 0 {
		cfg.QuestionCountLimit = defaultQuestionCountLimit
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	return &GenerationService{
		jobs:      jobRepo,
		runner:    runner,
		classes:   classes,
		subjects:  subjects,
		exams:     exams,
		scheduler: scheduler,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetQueue attaches the dispatcher used to deliver jobs.
func (s *GenerationService) SetQueue(queue jobDispatcher) {
	s.queue = queue
}

// TimetableIdempotencyKey derives the key identifying one logical timetable request.
func TimetableIdempotencyKey(req dto.GenerateTimetableRequest) string {
	return fmt.Sprintf("timetable:%s:%s:%s-%s/%d", req.ClassID, req.TermID, req.StartTime, req.EndTime, req.PeriodsPerDay)
}

// TriggerTimetable registers a GENERATE_TIMETABLE job. Repeating the request
// with the same key returns the existing job instead of starting another run.
// Only a caller-supplied key pins a finished job; once the job behind a derived
// key is terminal the next request starts a fresh generation.
func (s *GenerationService) TriggerTimetable(ctx context.Context, req dto.GenerateTimetableRequest, idempotencyKey string) (*dto.GenerationJobAccepted, error) {
	req.ClassID = strings.TrimSpace(req.ClassID)
	req.TermID = strings.TrimSpace(req.TermID)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid timetable request")
	}
	window := models.TimetableWindow{StartTime: req.StartTime, EndTime: req.EndTime, PeriodsPerDay: req.PeriodsPerDay}
	if _, err := s.scheduler.dayLayout(window); err != nil {
		return nil, err
	}

	exists, err := s.classes.Exists(ctx, req.ClassID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check class")
	}
	if !exists {
		return nil, appErrors.Clone(appErrors.ErrClassNotFound, fmt.Sprintf("class %s not found", req.ClassID))
	}

	payload := models.TimetableJobPayload{ClassID: req.ClassID, TermID: req.TermID, Window: window}
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		return s.register(ctx, models.JobKindGenerateTimetable, key, payload)
	}

	base := TimetableIdempotencyKey(req)
	key := base
	for generation := 2; ; generation++ {
		job, created, err := s.createOrGetJob(ctx, models.JobKindGenerateTimetable, key, payload)
		if err != nil {
			return nil, err
		}
		if created || !job.Status.Terminal() {
			s.announce(job, created)
			return s.accepted(job, created, ""), nil
		}
		key = fmt.Sprintf("%s#%d", base, generation)
	}
}

// TriggerExamQuestions creates a draft exam and registers a
// GENERATE_EXAM_QUESTIONS job for it. When a caller-supplied key is already
// registered the existing job is returned and no exam is created.
func (s *GenerationService) TriggerExamQuestions(ctx context.Context, req dto.GenerateExamRequest, idempotencyKey string) (*dto.GenerationJobAccepted, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid exam generation request")
	}
	if req.Count == 0 {
		req.Count = defaultQuestionCount
	}
	if req.Count > s.cfg.QuestionCountLimit {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("count must not exceed %d", s.cfg.QuestionCountLimit))
	}

	key := strings.TrimSpace(idempotencyKey)
	if key != "" {
		existing, err := s.jobs.GetByIdempotencyKey(ctx, key)
		if err == nil {
			if existing.Kind != models.JobKindGenerateExamQuestions {
				return nil, appErrors.Clone(appErrors.ErrConflict, "idempotency key is registered for another job kind")
			}
			return s.accepted(existing, false, examIDOf(existing)), nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up generation job")
		}
	}

	subjects, err := s.subjects.ListByIDs(ctx, []string{req.SubjectID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}
	if len(subjects) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("subject %s not found", req.SubjectID))
	}
	subjectName := subjects[0].Name
	if subjectName == "" {
		subjectName = subjects[0].Code
	}

	exam := s.draftExam(req)
	if key == "" {
		key = "exam-questions:" + exam.ID
	}
	difficulty := req.Difficulty
	if difficulty == "" {
		difficulty = defaultExamDifficulty
	}
	payload := models.ExamQuestionsJobPayload{
		ExamID:      exam.ID,
		Topic:       req.Topic,
		SubjectName: subjectName,
		Difficulty:  difficulty,
		Count:       req.Count,
	}

	// The job row is the claim on the key; only its winner writes the draft, so
	// a losing concurrent request leaves no orphaned exam behind.
	job, created, err := s.createOrGetJob(ctx, models.JobKindGenerateExamQuestions, key, payload)
	if err != nil {
		return nil, err
	}
	if !created {
		s.announce(job, false)
		return s.accepted(job, false, examIDOf(job)), nil
	}
	if err := s.exams.Create(ctx, exam); err != nil {
		if markErr := s.runner.MarkFatal(ctx, job.ID, err); markErr != nil {
			s.logger.Sugar().Warnw("failed to close job after draft exam error", "job_id", job.ID, "error", markErr)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create exam")
	}
	s.announce(job, true)
	return s.accepted(job, true, exam.ID), nil
}

func (s *GenerationService) draftExam(req dto.GenerateExamRequest) *models.Exam {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Auto-Generated: " + req.Topic
	}
	duration := req.DurationMinutes
	if duration <= 0 {
		duration = defaultExamDuration
	}
	due := s.now().Add(defaultExamDueIn)
	if req.DueDate != nil {
		due = req.DueDate.UTC()
	}
	return &models.Exam{
		ID:              uuid.NewString(),
		Title:           title,
		SubjectID:       req.SubjectID,
		ClassID:         req.ClassID,
		TeacherID:       req.TeacherID,
		DurationMinutes: duration,
		DueDate:         due,
		IsActive:        false,
		Questions:       models.Questions{},
	}
}

func (s *GenerationService) register(ctx context.Context, kind models.GenerationJobKind, key string, payload interface{}) (*dto.GenerationJobAccepted, error) {
	job, created, err := s.createOrGetJob(ctx, kind, key, payload)
	if err != nil {
		return nil, err
	}
	s.announce(job, created)
	return s.accepted(job, created, examIDOf(job)), nil
}

func (s *GenerationService) createOrGetJob(ctx context.Context, kind models.GenerationJobKind, key string, payload interface{}) (*models.GenerationJob, bool, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode job payload")
	}
	job, created, err := s.jobs.CreateOrGet(ctx, &models.GenerationJob{
		IdempotencyKey: key,
		Kind:           kind,
		Payload:        types.JSONText(encoded),
	})
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register generation job")
	}
	if job.Kind != kind {
		return nil, false, appErrors.Clone(appErrors.ErrConflict, "idempotency key is registered for another job kind")
	}
	return job, created, nil
}

// announce hands a new or still running job to the queue. Terminal jobs are
// never redelivered.
func (s *GenerationService) announce(job *models.GenerationJob, created bool) {
	if created {
		s.dispatch(job.ID, job.Kind)
		s.logger.Sugar().Infow("generation job registered", "job_id", job.ID, "kind", job.Kind, "idempotency_key", job.IdempotencyKey)
	} else if !job.Status.Terminal() {
		// A worker holding the lock turns the redundant delivery into a no-op.
		s.dispatch(job.ID, job.Kind)
	}
}

func (s *GenerationService) dispatch(jobID string, kind models.GenerationJobKind) {
	if s.queue == nil {
		s.logger.Sugar().Warnw("job queue not attached; relying on recovery sweep", "job_id", jobID)
		return
	}
	if err := s.queue.Enqueue(jobs.Job{ID: jobID, Type: string(kind)}); err != nil {
		s.logger.Sugar().Warnw("failed to enqueue generation job", "job_id", jobID, "error", err)
	}
}

func (s *GenerationService) accepted(job *models.GenerationJob, created bool, examID string) *dto.GenerationJobAccepted {
	return &dto.GenerationJobAccepted{
		JobID:          job.ID,
		IdempotencyKey: job.IdempotencyKey,
		Status:         string(job.Status),
		Created:        created,
		ExamID:         examID,
	}
}

func examIDOf(job *models.GenerationJob) string {
	if job == nil || job.Kind != models.JobKindGenerateExamQuestions {
		return ""
	}
	var payload models.ExamQuestionsJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return ""
	}
	return payload.ExamID
}

// GetJob returns the public view of a job. Memoized step results are omitted.
func (s *GenerationService) GetJob(ctx context.Context, id string) (*dto.GenerationJobView, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "generation job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load generation job")
	}
	return JobView(job), nil
}

// JobView projects a job without step results.
func JobView(job *models.GenerationJob) *dto.GenerationJobView {
	steps := make([]dto.GenerationStepView, 0, len(job.Steps))
	for _, record := range job.Steps {
		steps = append(steps, dto.GenerationStepView{
			Name:       record.Name,
			Status:     string(record.Status),
			Attempts:   record.Attempts,
			Error:      record.Error,
			ErrorCode:  record.ErrorCode,
			FinishedAt: record.FinishedAt,
		})
	}
	return &dto.GenerationJobView{
		ID:             job.ID,
		IdempotencyKey: job.IdempotencyKey,
		Kind:           string(job.Kind),
		Status:         string(job.Status),
		CurrentStep:    job.CurrentStep,
		Steps:          steps,
		FatalReason:    job.FatalReason,
		Deliveries:     job.Deliveries,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
		FinishedAt:     job.FinishedAt,
	}
}

// HandleJob is the queue handler: one delivery of one job.
func (s *GenerationService) HandleJob(ctx context.Context, job jobs.Job) error {
	_, err := s.runner.Run(ctx, job.ID)
	return err
}

// HandleExhausted marks a job FATAL once the queue gives up redelivering it.
// Lock contention means another worker owns the job, so it is left alone.
func (s *GenerationService) HandleExhausted(ctx context.Context, job jobs.Job, cause error) {
	if errors.Is(cause, appErrors.ErrJobLocked) {
		s.logger.Sugar().Warnw("job still locked after redeliveries", "job_id", job.ID)
		return
	}
	if err := s.runner.MarkFatal(ctx, job.ID, cause); err != nil {
		s.logger.Sugar().Errorw("failed to mark exhausted job fatal", "job_id", job.ID, "error", err)
	}
}

// ShouldRetry reports whether the queue should redeliver after err.
func ShouldRetry(err error) bool {
	return appErrors.IsRetriable(err)
}

// RecoverPendingJobs re-enqueues non-terminal jobs that have not progressed
// within StaleAfter, covering deliveries lost in a crash.
func (s *GenerationService) RecoverPendingJobs(ctx context.Context) (int, error) {
	stale, err := s.jobs.ListStale(ctx, s.now().Add(-s.cfg.StaleAfter), s.cfg.RecoveryBatch)
	if err != nil {
		return 0, err
	}
	for _, job := range stale {
		s.dispatch(job.ID, job.Kind)
	}
	if len(stale) > 0 {
		s.logger.Sugar().Infow("re-enqueued stale generation jobs", "count", len(stale))
	}
	return len(stale), nil
}
