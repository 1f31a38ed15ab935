package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-generation-core/internal/dto"
	"github.com/noah-isme/sma-generation-core/internal/models"
	"github.com/noah-isme/sma-generation-core/internal/service"
	appErrors "github.com/noah-isme/sma-generation-core/pkg/errors"
	"github.com/noah-isme/sma-generation-core/pkg/response"
)

type timetableReader interface {
	Get(ctx context.Context, classID, termID string) (*models.Timetable, error)
	Delete(ctx context.Context, classID, termID string) error
	Export(ctx context.Context, classID, termID, format string) (*service.ExportedFile, error)
}

// TimetableHandler serves committed timetables.
type TimetableHandler struct {
	service timetableReader
}

// NewTimetableHandler constructs the handler.
func NewTimetableHandler(svc *service.TimetableService) *TimetableHandler {
	return &TimetableHandler{service: svc}
}

func bindTimetableQuery(c *gin.Context) (dto.TimetableQuery, bool) {
	var query dto.TimetableQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid timetable query"))
		return query, false
	}
	query.ClassID = c.Param("classId")
	return query, true
}

// Get godoc
// @Summary Get the committed timetable of a class
// @Tags Timetables
// @Produce json
// @Param classId path string true "Class ID"
// @Param termId query string true "Term ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /timetables/{classId} [get]
func (h *TimetableHandler) Get(c *gin.Context) {
	query, ok := bindTimetableQuery(c)
	if !ok {
		return
	}
	timetable, err := h.service.Get(c.Request.Context(), query.ClassID, query.TermID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, timetable)
}

// Delete godoc
// @Summary Delete the committed timetable of a class
// @Tags Timetables
// @Param classId path string true "Class ID"
// @Param termId query string true "Term ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /timetables/{classId} [delete]
func (h *TimetableHandler) Delete(c *gin.Context) {
	query, ok := bindTimetableQuery(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), query.ClassID, query.TermID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Export godoc
// @Summary Export a timetable as CSV or PDF
// @Tags Timetables
// @Produce text/csv
// @Produce application/pdf
// @Param classId path string true "Class ID"
// @Param termId query string true "Term ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /timetables/{classId}/export [get]
func (h *TimetableHandler) Export(c *gin.Context) {
	query, ok := bindTimetableQuery(c)
	if !ok {
		return
	}
	format := query.Format
	if format == "" {
		format = service.ExportCSV
	}
	file, err := h.service.Export(c.Request.Context(), query.ClassID, query.TermID, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, file.ContentType, file.Body)
}
