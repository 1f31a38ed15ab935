package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/noah-isme/sma-generation-core/internal/models"
)

// BuildTimetablePrompt describes the class context and the output schema the
// timetable oracle must follow.
func BuildTimetablePrompt(className string, input ScheduleInput) string {
	type subjectRef struct {
		ID   string `json:"id"`
		Code string `json:"code"`
		Name string `json:"name"`
	}
	type teacherRef struct {
		ID       string   `json:"id"`
		Name     string   `json:"name"`
		Subjects []string `json:"subjects"`
	}
	type bookedRef struct {
		Teacher   string `json:"teacher"`
		Day       string `json:"day"`
		StartTime string `json:"startTime"`
		EndTime   string `json:"endTime"`
	}

	subjects := make([]subjectRef, 0, len(input.Subjects))
	for _, subject := range input.Subjects {
		subjects = append(subjects, subjectRef{ID: subject.ID, Code: subject.Code, Name: subject.Name})
	}
	teachers := make([]teacherRef, 0, len(input.Teachers))
	for _, teacher := range input.Teachers {
		teachers = append(teachers, teacherRef{ID: teacher.ID, Name: teacher.FullName, Subjects: teacher.SubjectIDs})
	}
	var booked []bookedRef
	for _, timetable := range input.Committed {
		if timetable.ClassID == input.Class.ID {
			continue
		}
		for _, day := range timetable.Schedule {
			for _, lesson := range day.Lessons() {
				if lesson.TeacherID == nil {
					continue
				}
				booked = append(booked, bookedRef{Teacher: *lesson.TeacherID, Day: string(day.Day), StartTime: lesson.StartTime, EndTime: lesson.EndTime})
			}
		}
	}

	var b strings.Builder
	b.WriteString("You are a school scheduler. Generate a weekly timetable (Monday to Friday).\n\n")
	b.WriteString("CONTEXT:\n")
	fmt.Fprintf(&b, "- Class: %s\n", className)
	fmt.Fprintf(&b, "- Hours: %s to %s (%d periods/day).\n\n", input.Window.StartTime, input.Window.EndTime, input.Window.PeriodsPerDay)
	b.WriteString("RESOURCES:\n")
	fmt.Fprintf(&b, "- Subjects: %s\n", mustJSON(subjects))
	fmt.Fprintf(&b, "- Teachers: %s\n", mustJSON(teachers))
	fmt.Fprintf(&b, "- Teacher bookings in other classes: %s\n\n", mustJSON(booked))
	b.WriteString("STRICT RULES:\n")
	b.WriteString("1. Assign a teacher to every subject period.\n")
	b.WriteString("2. The teacher MUST list the subject id among their subjects.\n")
	b.WriteString("3. A 10 minute break after every 2 consecutive periods and a 30 minute lunch after the 5th period.\n")
	b.WriteString("4. A teacher can never overlap one of their bookings in another class.\n")
	b.WriteString("5. Output strict JSON only. Schema:\n")
	b.WriteString(`{"schedule":[{"day":"Monday","periods":[{"subject":"SUBJECT_ID","teacher":"TEACHER_ID","kind":"LESSON|BREAK|LUNCH","startTime":"HH:MM","endTime":"HH:MM"}]}]}`)
	b.WriteString("\n")
	return b.String()
}

// BuildExamQuestionsPrompt asks for exactly payload.Count multiple-choice questions.
func BuildExamQuestionsPrompt(payload models.ExamQuestionsJobPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a strict teacher. Create a JSON array of %d multiple-choice questions for a high school exam.\n\n", payload.Count)
	b.WriteString("CONTEXT:\n")
	fmt.Fprintf(&b, "- Subject: %s\n", payload.SubjectName)
	fmt.Fprintf(&b, "- Topic: %s\n", payload.Topic)
	fmt.Fprintf(&b, "- Difficulty: %s\n\n", payload.Difficulty)
	b.WriteString("STRICT JSON SCHEMA (array of objects):\n")
	b.WriteString(`[{"questionText":"Question string","type":"MCQ","options":["Option A","Option B","Option C","Option D"],"correctAnswer":"The exact string of the correct option","points":1}]`)
	b.WriteString("\n\nRULES:\n")
	b.WriteString("1. Output ONLY raw JSON. No Markdown.\n")
	b.WriteString("2. The correct answer must match one of the options exactly.\n")
	return b.String()
}

func mustJSON(value interface{}) string {
	data, err := json.Marshal(value)
	if err != nil {
		return "[]"
	}
	return string(data)
}
