package handler

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-generation-core/internal/middleware"
	"github.com/noah-isme/sma-generation-core/internal/models"
	"github.com/noah-isme/sma-generation-core/internal/service"
	appErrors "github.com/noah-isme/sma-generation-core/pkg/errors"
)

func examRouter(stub *examGraderStub) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := &ExamHandler{service: stub}
	r := gin.New()
	r.GET("/exams/:id", h.Get)
	r.GET("/exams/:id/answer-key", h.AnswerKey)
	r.PATCH("/exams/:id/publish", h.Publish)
	r.POST("/exams/:id/submit", h.Submit)
	r.GET("/exams/:id/result", h.Result)
	return r
}

func TestExamViewsSelectAnswerVisibility(t *testing.T) {
	stub := &examGraderStub{exam: &models.Exam{ID: "exam-1"}}
	router := examRouter(stub)

	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/exams/exam-1", "", nil).Code)
	assert.False(t, stub.reveal)

	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/exams/exam-1/answer-key", "", nil).Code)
	assert.True(t, stub.reveal)
}

func TestExamPublish(t *testing.T) {
	stub := &examGraderStub{exam: &models.Exam{ID: "exam-1", IsActive: true}}
	router := examRouter(stub)

	w := serve(router, http.MethodPatch, "/exams/exam-1/publish", `{"isActive":false}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, stub.isActive)
	assert.False(t, *stub.isActive)

	w = serve(router, http.MethodPatch, "/exams/exam-1/publish", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, stub.isActive)

	stub.err = appErrors.Clone(appErrors.ErrPreconditionFailed, "exam has no questions yet")
	w = serve(router, http.MethodPatch, "/exams/exam-1/publish", `{"isActive":true}`, nil)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
}

func TestExamSubmit(t *testing.T) {
	stub := &examGraderStub{}
	body := `{"studentId":"s-1","answers":[{"questionId":"q1","answer":"B"},{"questionId":"q2","answer":"A"}]}`

	w := serve(examRouter(stub), http.MethodPost, "/exams/exam-1/submit", body, nil)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "exam-1", stub.gradeReq.ExamID)
	assert.Equal(t, "s-1", stub.gradeReq.StudentID)
	assert.Equal(t, []models.SubmissionAnswer{{QuestionID: "q1", Answer: "B"}, {QuestionID: "q2", Answer: "A"}}, stub.gradeReq.Answers)
	assert.Contains(t, string(decodeEnvelope(t, w).Data), `"score":1`)
}

func TestExamSubmitDuplicate(t *testing.T) {
	stub := &examGraderStub{err: appErrors.Clone(appErrors.ErrAlreadySubmitted, "already submitted")}
	w := serve(examRouter(stub), http.MethodPost, "/exams/exam-1/submit", `{"studentId":"s-1","answers":[]}`, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, appErrors.ErrAlreadySubmitted.Code, decodeEnvelope(t, w).Error.Code)
}

func TestExamResult(t *testing.T) {
	stub := &examGraderStub{result: &service.SubmissionResult{
		Submission: &models.Submission{ID: "sub-1", Score: 2},
		Exam:       &models.Exam{ID: "exam-1"},
	}}
	w := serve(examRouter(stub), http.MethodGet, "/exams/exam-1/result?studentId=s-1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(decodeEnvelope(t, w).Data), `"sub-1"`)
}

func TestExamSubmitRecordsActivity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := &activityRecorder{}
	h := &ExamHandler{service: &examGraderStub{}}
	r := gin.New()
	r.POST("/exams/:id/submit", middleware.Activity(recorder, nil, models.ActivityExamSubmitted, models.ActivityResourceSubmission), h.Submit)

	body := `{"studentId":"s-1","answers":[{"questionId":"q1","answer":"B"}]}`
	require.Equal(t, http.StatusCreated, serve(r, http.MethodPost, "/exams/exam-1/submit", body, nil).Code)

	require.Len(t, recorder.entries, 1)
	entry := recorder.entries[0]
	assert.Equal(t, "s-1", *entry.ActorID)
	assert.Equal(t, "sub-1", *entry.ResourceID)
	assert.Contains(t, string(entry.Details), `"examId":"exam-1"`)
	assert.Contains(t, string(entry.Details), `"score":1`)
}
