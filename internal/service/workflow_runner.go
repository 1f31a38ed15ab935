package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-generation-core/internal/models"
	appErrors "github.com/noah-isme/sma-generation-core/pkg/errors"
)

const (
	defaultMaxStepAttempts   = 5
	defaultMalformedAttempts = 2
	defaultLockTTL           = 5 * time.Minute
)

// StepFunc executes one step. The returned value is memoized as JSON.
type StepFunc func(ctx context.Context, sc *StepContext) (interface{}, error)

// WorkflowStep is a named, idempotent unit of work.
type WorkflowStep struct {
	Name string
	Run  StepFunc
}

// Workflow describes the ordered steps of one job kind.
type Workflow interface {
	Kind() models.GenerationJobKind
	Steps() []WorkflowStep
	// TargetExists reports whether the entity the job writes to still exists.
	TargetExists(ctx context.Context, job *models.GenerationJob) (bool, error)
}

// StepContext gives a step access to its job and to earlier memoized results.
type StepContext struct {
	Job     *models.GenerationJob
	results map[string]json.RawMessage
}

// Payload decodes the job payload into dest.
func (sc *StepContext) Payload(dest interface{}) error {
	if err := json.Unmarshal(sc.Job.Payload, dest); err != nil {
		return appErrors.Fatal(appErrors.CloneWrap(appErrors.ErrValidation, err, "invalid job payload"), "payload")
	}
	return nil
}

// Result decodes the memoized result of an earlier step into dest.
func (sc *StepContext) Result(step string, dest interface{}) error {
	raw, ok := sc.results[step]
	if !ok {
		return fmt.Errorf("step %s has no memoized result", step)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode result of step %s: %w", step, err)
	}
	return nil
}

// rewindError asks the runner to drop the memoized result of an earlier step so
// that the next delivery recomputes it before resuming.
type rewindError struct {
	step string
	err  error
}

func (e *rewindError) Error() string {
	return e.err.Error()
}

func (e *rewindError) Unwrap() error {
	return e.err
}

func rewindTo(step string, err error) error {
	return &rewindError{step: step, err: err}
}

type generationJobStore interface {
	GetByID(ctx context.Context, id string) (*models.GenerationJob, error)
	Save(ctx context.Context, job *models.GenerationJob) error
}

type jobLocker interface {
	Acquire(ctx context.Context, jobID string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, jobID, token string) error
}

// WorkflowRunnerConfig bounds step retries and lock lifetime.
type WorkflowRunnerConfig struct {
	MaxStepAttempts   int
	MalformedAttempts int
	LockTTL           time.Duration
}

// WorkflowRunner drives a GenerationJob through its workflow, memoizing every
// completed step so that re-delivery resumes instead of repeating work.
type WorkflowRunner struct {
	jobs      generationJobStore
	locks     jobLocker
	workflows map[models.GenerationJobKind]Workflow
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       WorkflowRunnerConfig
	now       func() time.Time
}

// NewWorkflowRunner wires runner dependencies.
func NewWorkflowRunner(jobs generationJobStore, locks jobLocker, metrics *MetricsService, logger *zap.Logger, cfg WorkflowRunnerConfig, workflows ...Workflow) *WorkflowRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxStepAttempts <= 0 {
		cfg.MaxStepAttempts = defaultMaxStepAttempts
	}
	if cfg.MalformedAttempts <= 0 {
		cfg.MalformedAttempts = defaultMalformedAttempts
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	registry := make(map[models.GenerationJobKind]Workflow, len(workflows))
	for _, wf := range workflows {
		registry[wf.Kind()] = wf
	}
	return &WorkflowRunner{
		jobs:      jobs,
		locks:     locks,
		workflows: registry,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run executes one delivery of the job. A nil error means the job is terminal.
// Errors are tagged with appErrors.Retriable or appErrors.Fatal.
func (r *WorkflowRunner) Run(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	if r.locks != nil {
		token, ok, err := r.locks.Acquire(ctx, jobID, r.cfg.LockTTL)
		if err != nil {
			return nil, appErrors.Retriable(err, "acquire job lock")
		}
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrJobLocked, fmt.Sprintf("job %s is locked", jobID))
		}
		defer func() {
			if err := r.locks.Release(context.WithoutCancel(ctx), jobID, token); err != nil {
				r.logger.Sugar().Warnw("release job lock failed", "job_id", jobID, "error", err)
			}
		}()
	}

	job, err := r.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Fatal(appErrors.Clone(appErrors.ErrNotFound, "generation job not found"), "job missing")
		}
		return nil, appErrors.Retriable(err, "load generation job")
	}
	if job.Status.Terminal() {
		return job, nil
	}

	wf, ok := r.workflows[job.Kind]
	if !ok {
		cause := appErrors.Clone(appErrors.ErrUnknownJobKind, fmt.Sprintf("no workflow registered for %s", job.Kind))
		return r.failJob(ctx, job, cause, time.Now())
	}

	started := time.Now()
	steps := wf.Steps()
	alignStepRecords(job, steps)
	job.Status = models.JobStatusRunning
	job.Deliveries++
	if err := r.jobs.Save(ctx, job); err != nil {
		return job, appErrors.Retriable(err, "mark job running")
	}

	log := r.logger.Sugar().With("job_id", job.ID, "kind", job.Kind, "delivery", job.Deliveries)
	sc := &StepContext{Job: job, results: make(map[string]json.RawMessage, len(steps))}

	for i, step := range steps {
		record := &job.Steps[i]
		if record.Status == models.StepDone {
			sc.results[step.Name] = record.Result
			continue
		}
		job.CurrentStep = i

		exists, err := wf.TargetExists(ctx, job)
		if err != nil {
			return r.handleStepError(ctx, job, record, fmt.Errorf("target existence check: %w", err), started)
		}
		if !exists {
			return r.handleStepError(ctx, job, record, appErrors.Clone(appErrors.ErrTargetDeleted, "job target was deleted"), started)
		}

		log.Infow("running step", "step", step.Name, "attempt", record.Attempts+1)
		output, err := step.Run(ctx, sc)
		if err != nil {
			return r.handleStepError(ctx, job, record, err, started)
		}
		result, err := json.Marshal(output)
		if err != nil {
			return r.handleStepError(ctx, job, record, appErrors.Fatal(err, "encode step result"), started)
		}

		finished := r.now()
		record.Status = models.StepDone
		record.Result = result
		record.Error = nil
		record.ErrorCode = ""
		record.Attempts++
		record.FinishedAt = &finished
		if err := r.jobs.Save(ctx, job); err != nil {
			return job, appErrors.Retriable(err, "persist step "+step.Name)
		}
		sc.results[step.Name] = result
		r.metrics.RecordStep(job.Kind, step.Name, StepOutcomeDone)
	}

	finished := r.now()
	job.Status = models.JobStatusDone
	job.CurrentStep = len(steps)
	job.FinishedAt = &finished
	if err := r.jobs.Save(ctx, job); err != nil {
		return job, appErrors.Retriable(err, "mark job done")
	}
	r.metrics.RecordJob(job.Kind, job.Status, time.Since(started))
	log.Infow("generation job completed", "duration", time.Since(started))
	return job, nil
}

// MarkFatal terminates a job whose delivery budget is exhausted. Terminal jobs
// are left untouched.
func (r *WorkflowRunner) MarkFatal(ctx context.Context, jobID string, cause error) error {
	job, err := r.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job for fatal transition: %w", err)
	}
	if job.Status.Terminal() {
		return nil
	}
	if _, err := r.failJob(ctx, job, cause, time.Time{}); appErrors.IsRetriable(err) {
		return err
	}
	return nil
}

func (r *WorkflowRunner) handleStepError(ctx context.Context, job *models.GenerationJob, record *models.StepRecord, cause error, started time.Time) (*models.GenerationJob, error) {
	record.Attempts++
	message := cause.Error()
	record.Error = &message
	record.ErrorCode = appErrors.CodeOf(cause)
	record.Status = models.StepFailed

	limit := r.cfg.MaxStepAttempts
	if record.ErrorCode == appErrors.ErrMalformedResponse.Code {
		limit = r.cfg.MalformedAttempts
	}

	log := r.logger.Sugar().With("job_id", job.ID, "kind", job.Kind, "step", record.Name, "attempt", record.Attempts)
	if appErrors.KindOf(cause) == appErrors.KindFatal || record.Attempts >= limit {
		r.metrics.RecordStep(job.Kind, record.Name, StepOutcomeFatal)
		log.Errorw("step failed permanently", "error", cause)
		return r.failJob(ctx, job, cause, started)
	}

	var rewind *rewindError
	if errors.As(cause, &rewind) {
		for i := range job.Steps {
			if job.Steps[i].Name != rewind.step {
				continue
			}
			job.Steps[i].Status = models.StepPending
			job.Steps[i].Result = nil
			job.Steps[i].FinishedAt = nil
			log.Infow("memoized step invalidated", "rewind_to", rewind.step)
		}
	}

	job.Status = models.JobStatusPending
	if err := r.jobs.Save(ctx, job); err != nil {
		return job, appErrors.Retriable(err, "persist step failure")
	}
	r.metrics.RecordStep(job.Kind, record.Name, StepOutcomeRetriable)
	log.Warnw("step failed, will retry", "error", cause, "limit", limit)
	return job, appErrors.Retriable(cause, fmt.Sprintf("step %s attempt %d/%d", record.Name, record.Attempts, limit))
}

func (r *WorkflowRunner) failJob(ctx context.Context, job *models.GenerationJob, cause error, started time.Time) (*models.GenerationJob, error) {
	finished := r.now()
	reason := cause.Error()
	job.Status = models.JobStatusFatal
	job.FatalReason = &reason
	job.FinishedAt = &finished
	if err := r.jobs.Save(ctx, job); err != nil {
		return job, appErrors.Retriable(err, "persist fatal transition")
	}
	var duration time.Duration
	if !started.IsZero() {
		duration = time.Since(started)
	}
	r.metrics.RecordJob(job.Kind, job.Status, duration)
	return job, appErrors.Fatal(cause, "job "+job.ID+" failed")
}

// alignStepRecords ensures job.Steps mirrors the workflow's step list, keeping
// memoized records whose names still match.
func alignStepRecords(job *models.GenerationJob, steps []WorkflowStep) {
	existing := make(map[string]models.StepRecord, len(job.Steps))
	for _, record := range job.Steps {
		existing[record.Name] = record
	}
	aligned := make(models.StepRecords, len(steps))
	for i, step := range steps {
		if record, ok := existing[step.Name]; ok {
			aligned[i] = record
			continue
		}
		aligned[i] = models.StepRecord{Name: step.Name, Status: models.StepPending}
	}
	job.Steps = aligned
}
