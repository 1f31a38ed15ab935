package service

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-generation-core/internal/models"
	appErrors "github.com/noah-isme/sma-generation-core/pkg/errors"
)

// Step names of the GENERATE_EXAM_QUESTIONS workflow.
const (
	StepGenerateQuestions = "generate-questions"
	StepPersistQuestions  = "persist-questions"
)

const defaultQuestionCountLimit = 50

type workflowExamStore interface {
	Exists(ctx context.Context, id string) (bool, error)
	SaveQuestions(ctx context.Context, id string, questions models.Questions, isActive bool) error
}

type persistedQuestions struct {
	ExamID string `json:"examId"`
	Count  int    `json:"count"`
}

// ExamQuestionWorkflow implements GENERATE_EXAM_QUESTIONS.
type ExamQuestionWorkflow struct {
	exams      workflowExamStore
	generator  ContentGenerator
	validator  *validator.Validate
	logger     *zap.Logger
	countLimit int
}

// NewExamQuestionWorkflow wires the exam question workflow.
func NewExamQuestionWorkflow(exams workflowExamStore, generator ContentGenerator, validate *validator.Validate, logger *zap.Logger, countLimit int) *ExamQuestionWorkflow {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if countLimit <= 0 {
		countLimit = defaultQuestionCountLimit
	}
	return &ExamQuestionWorkflow{exams: exams, generator: generator, validator: validate, logger: logger, countLimit: countLimit}
}

// Kind implements Workflow.
func (w *ExamQuestionWorkflow) Kind() models.GenerationJobKind {
	return models.JobKindGenerateExamQuestions
}

// Steps implements Workflow.
func (w *ExamQuestionWorkflow) Steps() []WorkflowStep {
	return []WorkflowStep{
		{Name: StepGenerateQuestions, Run: w.generateQuestions},
		{Name: StepPersistQuestions, Run: w.persistQuestions},
	}
}

// TargetExists implements Workflow.
func (w *ExamQuestionWorkflow) TargetExists(ctx context.Context, job *models.GenerationJob) (bool, error) {
	payload, err := w.payload(&StepContext{Job: job})
	if err != nil {
		return false, err
	}
	return w.exams.Exists(ctx, payload.ExamID)
}

func (w *ExamQuestionWorkflow) payload(sc *StepContext) (models.ExamQuestionsJobPayload, error) {
	var payload models.ExamQuestionsJobPayload
	if err := sc.Payload(&payload); err != nil {
		return payload, err
	}
	if err := w.validator.Struct(payload); err != nil {
		return payload, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid exam question job payload")
	}
	if payload.Count > w.countLimit {
		return payload, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("count must not exceed %d", w.countLimit))
	}
	return payload, nil
}

func (w *ExamQuestionWorkflow) generateQuestions(ctx context.Context, sc *StepContext) (interface{}, error) {
	payload, err := w.payload(sc)
	if err != nil {
		return nil, err
	}
	if w.generator == nil {
		return nil, appErrors.Clone(appErrors.ErrConfiguration, "content generator is not configured")
	}
	raw, err := w.generator.Generate(ctx, BuildExamQuestionsPrompt(payload))
	if err != nil {
		return nil, err
	}
	questions, err := ParseQuestions(raw, payload.Count, w.validator)
	if err != nil {
		w.logger.Sugar().Warnw("generated questions rejected", "job_id", sc.Job.ID, "exam_id", payload.ExamID, "error", err)
		return nil, err
	}
	return questions, nil
}

func (w *ExamQuestionWorkflow) persistQuestions(ctx context.Context, sc *StepContext) (interface{}, error) {
	payload, err := w.payload(sc)
	if err != nil {
		return nil, err
	}
	var questions models.Questions
	if err := sc.Result(StepGenerateQuestions, &questions); err != nil {
		return nil, err
	}
	if err := w.exams.SaveQuestions(ctx, payload.ExamID, questions, false); err != nil {
		return nil, err
	}
	return persistedQuestions{ExamID: payload.ExamID, Count: len(questions)}, nil
}
