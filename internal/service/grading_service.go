package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-generation-core/internal/models"
	"github.com/noah-isme/sma-generation-core/internal/repository"
	appErrors "github.com/noah-isme/sma-generation-core/pkg/errors"
)

// Submission outcomes reported to exam_submissions_total.
const (
	SubmissionGraded    = "graded"
	SubmissionDuplicate = "duplicate"
	SubmissionRejected  = "rejected"
)

type gradingExamStore interface {
	FindByID(ctx context.Context, id string, revealAnswers bool) (*models.Exam, error)
	SetActive(ctx context.Context, id string, isActive bool) error
}

type gradingSubmissionStore interface {
	FindByExamStudent(ctx context.Context, examID, studentID string) (*models.Submission, error)
	Create(ctx context.Context, submission *models.Submission) error
}

// GradeRequest carries one student's answers.
type GradeRequest struct {
	ExamID    string                    `validate:"required"`
	StudentID string                    `validate:"required"`
	Answers   []models.SubmissionAnswer `validate:"dive"`
}

// SubmissionResult joins a submission with the exam read under revealAnswers.
type SubmissionResult struct {
	Submission *models.Submission `json:"submission"`
	Exam       *models.Exam       `json:"exam"`
}

// GradingService scores submissions exactly once per (exam, student).
type GradingService struct {
	exams       gradingExamStore
	submissions gradingSubmissionStore
	validator   *validator.Validate
	metrics     *MetricsService
	logger      *zap.Logger
}

// NewGradingService wires grading dependencies.
func NewGradingService(exams gradingExamStore, submissions gradingSubmissionStore, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *GradingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradingService{exams: exams, submissions: submissions, validator: validate, metrics: metrics, logger: logger}
}

// Grade scores and persists a submission. A second submission for the same
// pair, whether caught by the pre-check or by the store's unique index, fails
// with ALREADY_SUBMITTED and leaves the first one untouched.
func (s *GradingService) Grade(ctx context.Context, req GradeRequest) (*models.Submission, error) {
	if err := s.validator.Struct(req); err != nil {
		s.metrics.RecordSubmission(SubmissionRejected)
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid submission payload")
	}

	exam, err := s.exams.FindByID(ctx, req.ExamID, true)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordSubmission(SubmissionRejected)
			return nil, appErrors.Clone(appErrors.ErrExamNotFound, fmt.Sprintf("exam %s not found", req.ExamID))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exam")
	}

	existing, err := s.submissions.FindByExamStudent(ctx, req.ExamID, req.StudentID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing submission")
	}
	if existing != nil {
		s.metrics.RecordSubmission(SubmissionDuplicate)
		return nil, appErrors.Clone(appErrors.ErrAlreadySubmitted, "exam already submitted")
	}

	submission := &models.Submission{
		ExamID:      req.ExamID,
		StudentID:   req.StudentID,
		Answers:     models.SubmissionAnswers(req.Answers),
		Score:       Score(exam.Questions, req.Answers),
		TotalPoints: exam.Questions.TotalPoints(),
	}
	if err := s.submissions.Create(ctx, submission); err != nil {
		if errors.Is(err, repository.ErrDuplicateSubmission) {
			s.metrics.RecordSubmission(SubmissionDuplicate)
			return nil, appErrors.Clone(appErrors.ErrAlreadySubmitted, "exam already submitted")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store submission")
	}

	s.metrics.RecordSubmission(SubmissionGraded)
	s.logger.Sugar().Infow("submission graded", "exam_id", req.ExamID, "student_id", req.StudentID, "score", submission.Score, "total_points", submission.TotalPoints)
	return submission, nil
}

// Score sums the points of questions whose first supplied answer equals the
// correct answer exactly. Unanswered questions score zero.
func Score(questions models.Questions, answers []models.SubmissionAnswer) int {
	first := make(map[string]string, len(answers))
	for _, answer := range answers {
		if _, seen := first[answer.QuestionID]; !seen {
			first[answer.QuestionID] = answer.Answer
		}
	}
	score := 0
	for _, question := range questions {
		answer, ok := first[question.ID]
		if ok && answer == question.CorrectAnswer {
			score += question.Points
		}
	}
	return score
}

// Result returns the student's submission together with the answer key.
func (s *GradingService) Result(ctx context.Context, examID, studentID string) (*SubmissionResult, error) {
	if examID == "" || studentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "examId and studentId are required")
	}
	submission, err := s.submissions.FindByExamStudent(ctx, examID, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no submission found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submission")
	}
	exam, err := s.ExamView(ctx, examID, true)
	if err != nil {
		return nil, err
	}
	return &SubmissionResult{Submission: submission, Exam: exam}, nil
}

// ExamView reads an exam with the answer key revealed only on request.
func (s *GradingService) ExamView(ctx context.Context, examID string, revealAnswers bool) (*models.Exam, error) {
	exam, err := s.exams.FindByID(ctx, examID, revealAnswers)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrExamNotFound, fmt.Sprintf("exam %s not found", examID))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exam")
	}
	return exam, nil
}

// PublishExam sets is_active, toggling it when isActive is nil. An exam
// without questions cannot be activated.
func (s *GradingService) PublishExam(ctx context.Context, examID string, isActive *bool) (*models.Exam, error) {
	exam, err := s.ExamView(ctx, examID, false)
	if err != nil {
		return nil, err
	}
	target := !exam.IsActive
	if isActive != nil {
		target = *isActive
	}
	if target && len(exam.Questions) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "exam has no questions yet")
	}
	if err := s.exams.SetActive(ctx, examID, target); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrExamNotFound, fmt.Sprintf("exam %s not found", examID))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update exam status")
	}
	exam.IsActive = target
	return exam, nil
}
