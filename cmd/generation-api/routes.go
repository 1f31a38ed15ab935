package main

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-generation-core/internal/handler"
	"github.com/noah-isme/sma-generation-core/internal/models"
)

// activityFactory builds the middleware that records one audited action.
type activityFactory func(action, resource string) gin.HandlerFunc

func registerRoutes(api *gin.RouterGroup, generation *handler.GenerationHandler, timetables *handler.TimetableHandler, exams *handler.ExamHandler, activity activityFactory) {
	api.POST("/timetables/generate", activity(models.ActivityTimetableRequested, models.ActivityResourceGenerationJob), generation.GenerateTimetable)
	api.GET("/timetables/:classId", timetables.Get)
	api.DELETE("/timetables/:classId", timetables.Delete)
	api.GET("/timetables/:classId/export", timetables.Export)

	api.POST("/exams/generate", activity(models.ActivityExamRequested, models.ActivityResourceGenerationJob), generation.GenerateExam)
	api.GET("/exams/:id", exams.Get)
	api.GET("/exams/:id/answer-key", exams.AnswerKey)
	api.PATCH("/exams/:id/publish", activity(models.ActivityExamStatusChanged, models.ActivityResourceExam), exams.Publish)
	api.POST("/exams/:id/submit", activity(models.ActivityExamSubmitted, models.ActivityResourceSubmission), exams.Submit)
	api.GET("/exams/:id/result", exams.Result)

	api.GET("/generation-jobs/:id", generation.GetJob)
}
