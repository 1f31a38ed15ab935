package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-generation-core/internal/models"
	appErrors "github.com/noah-isme/sma-generation-core/pkg/errors"
)

func TestExamQuestionWorkflowPersistsDraftQuestions(t *testing.T) {
	jobsStore := newMemoryJobStore()
	exams := newExamStoreStub(models.Exam{ID: "exam-1", Title: "Auto-Generated: Photosynthesis"})
	generator := &scriptedGenerator{replies: []generatorReply{{text: questionsJSON(5)}}}
	runner := NewWorkflowRunner(jobsStore, nil, nil, nil, WorkflowRunnerConfig{}, NewExamQuestionWorkflow(exams, generator, nil, nil, 0))
	job := examJob(jobsStore, "exam-1", 5)

	_, err := runner.Run(context.Background(), job.ID)
	require.NoError(t, err)

	prompt := generator.prompts[0]
	assert.Contains(t, prompt, "Photosynthesis")
	assert.Contains(t, prompt, "Biology")

	hidden, err := exams.FindByID(context.Background(), "exam-1", false)
	require.NoError(t, err)
	require.Len(t, hidden.Questions, 5)
	for _, question := range hidden.Questions {
		assert.Empty(t, question.CorrectAnswer)
	}
	assert.False(t, hidden.IsActive)
}

func TestExamQuestionWorkflowWrongCountIsMalformed(t *testing.T) {
	jobsStore := newMemoryJobStore()
	exams := newExamStoreStub(models.Exam{ID: "exam-1"})
	generator := &scriptedGenerator{replies: []generatorReply{{text: questionsJSON(4)}}}
	runner := NewWorkflowRunner(jobsStore, nil, nil, nil, WorkflowRunnerConfig{}, NewExamQuestionWorkflow(exams, generator, nil, nil, 0))
	job := examJob(jobsStore, "exam-1", 5)

	_, err := runner.Run(context.Background(), job.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrMalformedResponse.Code, jobsStore.get(job.ID).Steps[0].ErrorCode)
}

func TestExamQuestionWorkflowWithoutGeneratorIsConfigurationError(t *testing.T) {
	jobsStore := newMemoryJobStore()
	exams := newExamStoreStub(models.Exam{ID: "exam-1"})
	runner := NewWorkflowRunner(jobsStore, nil, nil, nil, WorkflowRunnerConfig{}, NewExamQuestionWorkflow(exams, nil, nil, nil, 0))
	job := examJob(jobsStore, "exam-1", 5)

	_, err := runner.Run(context.Background(), job.ID)
	assert.ErrorIs(t, err, appErrors.ErrConfiguration)
	assert.Equal(t, appErrors.KindFatal, appErrors.KindOf(err))
	assert.Equal(t, models.JobStatusFatal, jobsStore.get(job.ID).Status)
}

func TestExamQuestionWorkflowEnforcesCountLimit(t *testing.T) {
	jobsStore := newMemoryJobStore()
	exams := newExamStoreStub(models.Exam{ID: "exam-1"})
	generator := &scriptedGenerator{replies: []generatorReply{{text: questionsJSON(20)}}}
	runner := NewWorkflowRunner(jobsStore, nil, nil, nil, WorkflowRunnerConfig{}, NewExamQuestionWorkflow(exams, generator, nil, nil, 10))
	job := examJob(jobsStore, "exam-1", 20)

	_, err := runner.Run(context.Background(), job.ID)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Zero(t, generator.calls())
}

func TestExamQuestionWorkflowDoesNotRegenerateAfterPersistFailure(t *testing.T) {
	jobsStore := newMemoryJobStore()
	exams := newExamStoreStub(models.Exam{ID: "exam-1"})
	generator := &scriptedGenerator{replies: []generatorReply{{text: questionsJSON(2)}}}
	runner := NewWorkflowRunner(jobsStore, nil, nil, nil, WorkflowRunnerConfig{}, NewExamQuestionWorkflow(exams, generator, nil, nil, 0))
	job := examJob(jobsStore, "exam-1", 2)

	// Save #3 would record persist-questions as done.
	jobsStore.failSaveAt = 3
	_, err := runner.Run(context.Background(), job.ID)
	require.Error(t, err)

	_, err = runner.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, generator.calls())

	exam, err := exams.FindByID(context.Background(), "exam-1", true)
	require.NoError(t, err)
	assert.Len(t, exam.Questions, 2)
}
