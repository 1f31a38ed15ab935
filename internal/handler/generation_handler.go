package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-generation-core/internal/dto"
	"github.com/noah-isme/sma-generation-core/internal/service"
	appErrors "github.com/noah-isme/sma-generation-core/pkg/errors"
	"github.com/noah-isme/sma-generation-core/pkg/response"
)

type generationTrigger interface {
	TriggerTimetable(ctx context.Context, req dto.GenerateTimetableRequest, idempotencyKey string) (*dto.GenerationJobAccepted, error)
	TriggerExamQuestions(ctx context.Context, req dto.GenerateExamRequest, idempotencyKey string) (*dto.GenerationJobAccepted, error)
	GetJob(ctx context.Context, id string) (*dto.GenerationJobView, error)
}

// GenerationHandler accepts generation triggers and reports job progress.
type GenerationHandler struct {
	service generationTrigger
}

// NewGenerationHandler constructs the handler.
func NewGenerationHandler(svc *service.GenerationService) *GenerationHandler {
	return &GenerationHandler{service: svc}
}

// GenerateTimetable godoc
// @Summary Queue timetable generation for a class and term
// @Description Returns 202 with the job id. Repeating the same request, or the same Idempotency-Key, returns the original job.
// @Tags Generation
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Caller supplied idempotency key"
// @Param payload body dto.GenerateTimetableRequest true "Timetable window"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /timetables/generate [post]
func (h *GenerationHandler) GenerateTimetable(c *gin.Context) {
	var req dto.GenerateTimetableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid timetable payload"))
		return
	}
	accepted, err := h.service.TriggerTimetable(c.Request.Context(), req, idempotencyKeyFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	describeActivity(c, accepted.JobID, "", map[string]interface{}{
		"classId": req.ClassID, "termId": req.TermID, "created": accepted.Created,
	})
	response.Accepted(c, accepted, map[string]interface{}{"created": accepted.Created})
}

// GenerateExam godoc
// @Summary Create a draft exam and queue question generation
// @Tags Generation
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Caller supplied idempotency key"
// @Param payload body dto.GenerateExamRequest true "Exam generation payload"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /exams/generate [post]
func (h *GenerationHandler) GenerateExam(c *gin.Context) {
	var req dto.GenerateExamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid exam generation payload"))
		return
	}
	accepted, err := h.service.TriggerExamQuestions(c.Request.Context(), req, idempotencyKeyFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	describeActivity(c, accepted.JobID, req.TeacherID, map[string]interface{}{
		"examId": accepted.ExamID, "topic": req.Topic, "created": accepted.Created,
	})
	response.Accepted(c, accepted, map[string]interface{}{"created": accepted.Created})
}

// GetJob godoc
// @Summary Get generation job status
// @Tags Generation
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /generation-jobs/{id} [get]
func (h *GenerationHandler) GetJob(c *gin.Context) {
	view, err := h.service.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view)
}
