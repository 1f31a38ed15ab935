package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-generation-core/internal/dto"
	"github.com/noah-isme/sma-generation-core/internal/models"
	"github.com/noah-isme/sma-generation-core/internal/service"
)

type generationTriggerStub struct {
	timetableReq dto.GenerateTimetableRequest
	examReq      dto.GenerateExamRequest
	key          string
	accepted     *dto.GenerationJobAccepted
	view         *dto.GenerationJobView
	err          error
}

func (s *generationTriggerStub) TriggerTimetable(ctx context.Context, req dto.GenerateTimetableRequest, key string) (*dto.GenerationJobAccepted, error) {
	s.timetableReq, s.key = req, key
	return s.accepted, s.err
}

func (s *generationTriggerStub) TriggerExamQuestions(ctx context.Context, req dto.GenerateExamRequest, key string) (*dto.GenerationJobAccepted, error) {
	s.examReq, s.key = req, key
	return s.accepted, s.err
}

func (s *generationTriggerStub) GetJob(ctx context.Context, id string) (*dto.GenerationJobView, error) {
	return s.view, s.err
}

type timetableReaderStub struct {
	classID, termID, format string
	timetable               *models.Timetable
	file                    *service.ExportedFile
	err                     error
	deleted                 bool
}

func (s *timetableReaderStub) Get(ctx context.Context, classID, termID string) (*models.Timetable, error) {
	s.classID, s.termID = classID, termID
	return s.timetable, s.err
}

func (s *timetableReaderStub) Delete(ctx context.Context, classID, termID string) error {
	s.classID, s.termID = classID, termID
	s.deleted = s.err == nil
	return s.err
}

func (s *timetableReaderStub) Export(ctx context.Context, classID, termID, format string) (*service.ExportedFile, error) {
	s.classID, s.termID, s.format = classID, termID, format
	return s.file, s.err
}

type examGraderStub struct {
	gradeReq service.GradeRequest
	reveal   bool
	isActive *bool
	exam     *models.Exam
	result   *service.SubmissionResult
	err      error
}

func (s *examGraderStub) Grade(ctx context.Context, req service.GradeRequest) (*models.Submission, error) {
	s.gradeReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &models.Submission{ID: "sub-1", ExamID: req.ExamID, StudentID: req.StudentID, Score: 1, TotalPoints: 2}, nil
}

func (s *examGraderStub) Result(ctx context.Context, examID, studentID string) (*service.SubmissionResult, error) {
	return s.result, s.err
}

func (s *examGraderStub) ExamView(ctx context.Context, examID string, revealAnswers bool) (*models.Exam, error) {
	s.reveal = revealAnswers
	return s.exam, s.err
}

func (s *examGraderStub) PublishExam(ctx context.Context, examID string, isActive *bool) (*models.Exam, error) {
	s.isActive = isActive
	return s.exam, s.err
}

func serve(router *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type envelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Data  json.RawMessage        `json:"data"`
	Error *envelopeError         `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

type activityRecorder struct {
	entries []models.ActivityLog
}

func (r *activityRecorder) Create(ctx context.Context, entry *models.ActivityLog) error {
	r.entries = append(r.entries, *entry)
	return nil
}
