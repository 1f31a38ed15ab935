package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/noah-isme/sma-generation-core/internal/models"
	appErrors "github.com/noah-isme/sma-generation-core/pkg/errors"
)

type generatedQuestion struct {
	QuestionText  string   `json:"questionText" validate:"required"`
	Type          string   `json:"type" validate:"omitempty,oneof=MCQ SHORT_ANSWER"`
	Options       []string `json:"options" validate:"min=2,dive,required"`
	CorrectAnswer string   `json:"correctAnswer" validate:"required"`
	Points        *int     `json:"points" validate:"omitempty,min=1"`
}

// ParseQuestions decodes generator output into exactly count validated
// questions. Every failure is reported as MALFORMED_RESPONSE.
func ParseQuestions(raw string, count int, validate *validator.Validate) (models.Questions, error) {
	if validate == nil {
		validate = validator.New()
	}
	text := StripFences(raw)

	var items []generatedQuestion
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		var wrapped struct {
			Questions []generatedQuestion `json:"questions"`
		}
		if errWrapped := json.Unmarshal([]byte(text), &wrapped); errWrapped != nil || wrapped.Questions == nil {
			return nil, appErrors.CloneWrap(appErrors.ErrMalformedResponse, err, "generated questions are not a JSON array")
		}
		items = wrapped.Questions
	}
	if len(items) != count {
		return nil, appErrors.Clone(appErrors.ErrMalformedResponse, fmt.Sprintf("expected %d questions, got %d", count, len(items)))
	}

	questions := make(models.Questions, 0, len(items))
	for i, item := range items {
		item.QuestionText = strings.TrimSpace(item.QuestionText)
		for j := range item.Options {
			item.Options[j] = strings.TrimSpace(item.Options[j])
		}
		item.CorrectAnswer = strings.TrimSpace(item.CorrectAnswer)
		if err := validate.Struct(item); err != nil {
			return nil, appErrors.CloneWrap(appErrors.ErrMalformedResponse, err, fmt.Sprintf("question %d is invalid", i+1))
		}
		if !containsExact(item.Options, item.CorrectAnswer) {
			return nil, appErrors.Clone(appErrors.ErrMalformedResponse, fmt.Sprintf("question %d: correctAnswer is not one of the options", i+1))
		}
		points := 1
		if item.Points != nil {
			points = *item.Points
		}
		questionType := models.QuestionMCQ
		if item.Type != "" {
			questionType = models.QuestionType(item.Type)
		}
		questions = append(questions, models.Question{
			ID:            uuid.NewString(),
			Text:          item.QuestionText,
			Type:          questionType,
			Options:       item.Options,
			CorrectAnswer: item.CorrectAnswer,
			Points:        points,
		})
	}
	return questions, nil
}

func containsExact(options []string, value string) bool {
	for _, option := range options {
		if option == value {
			return true
		}
	}
	return false
}
