package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-generation-core/internal/dto"
	"github.com/noah-isme/sma-generation-core/internal/models"
	"github.com/noah-isme/sma-generation-core/internal/service"
	appErrors "github.com/noah-isme/sma-generation-core/pkg/errors"
	"github.com/noah-isme/sma-generation-core/pkg/response"
)

type examGrader interface {
	Grade(ctx context.Context, req service.GradeRequest) (*models.Submission, error)
	Result(ctx context.Context, examID, studentID string) (*service.SubmissionResult, error)
	ExamView(ctx context.Context, examID string, revealAnswers bool) (*models.Exam, error)
	PublishExam(ctx context.Context, examID string, isActive *bool) (*models.Exam, error)
}

// ExamHandler exposes exam reads, publishing and grading.
type ExamHandler struct {
	service examGrader
}

// NewExamHandler constructs the handler.
func NewExamHandler(svc *service.GradingService) *ExamHandler {
	return &ExamHandler{service: svc}
}

// Get godoc
// @Summary Get an exam for students
// @Description Correct answers are never included.
// @Tags Exams
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exams/{id} [get]
func (h *ExamHandler) Get(c *gin.Context) {
	h.view(c, false)
}

// AnswerKey godoc
// @Summary Get an exam with its answer key
// @Tags Exams
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exams/{id}/answer-key [get]
func (h *ExamHandler) AnswerKey(c *gin.Context) {
	h.view(c, true)
}

func (h *ExamHandler) view(c *gin.Context, revealAnswers bool) {
	exam, err := h.service.ExamView(c.Request.Context(), c.Param("id"), revealAnswers)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, exam)
}

// Publish godoc
// @Summary Activate or deactivate an exam
// @Description Omitting isActive toggles the current status.
// @Tags Exams
// @Accept json
// @Produce json
// @Param id path string true "Exam ID"
// @Param payload body dto.PublishExamRequest false "Target status"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /exams/{id}/publish [patch]
func (h *ExamHandler) Publish(c *gin.Context) {
	var req dto.PublishExamRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid publish payload"))
		return
	}
	exam, err := h.service.PublishExam(c.Request.Context(), c.Param("id"), req.IsActive)
	if err != nil {
		response.Error(c, err)
		return
	}
	describeActivity(c, exam.ID, "", map[string]interface{}{"isActive": exam.IsActive})
	response.JSON(c, http.StatusOK, exam)
}

// Submit godoc
// @Summary Submit and grade answers
// @Description Each student may submit once per exam.
// @Tags Exams
// @Accept json
// @Produce json
// @Param id path string true "Exam ID"
// @Param payload body dto.SubmitExamRequest true "Answers"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /exams/{id}/submit [post]
func (h *ExamHandler) Submit(c *gin.Context) {
	var req dto.SubmitExamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid submission payload"))
		return
	}
	answers := make([]models.SubmissionAnswer, 0, len(req.Answers))
	for _, answer := range req.Answers {
		answers = append(answers, models.SubmissionAnswer{QuestionID: answer.QuestionID, Answer: answer.Answer})
	}
	submission, err := h.service.Grade(c.Request.Context(), service.GradeRequest{
		ExamID:    c.Param("id"),
		StudentID: req.StudentID,
		Answers:   answers,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	describeActivity(c, submission.ID, req.StudentID, map[string]interface{}{
		"examId": submission.ExamID, "score": submission.Score, "totalPoints": submission.TotalPoints,
	})
	response.Created(c, submission)
}

// Result godoc
// @Summary Get a student's graded submission with the answer key
// @Tags Exams
// @Produce json
// @Param id path string true "Exam ID"
// @Param studentId query string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exams/{id}/result [get]
func (h *ExamHandler) Result(c *gin.Context) {
	result, err := h.service.Result(c.Request.Context(), c.Param("id"), c.Query("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}
