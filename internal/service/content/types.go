package content

import (
	"fmt"

	"manulmonday/economy/internal/model"
)

// Bundle is everything the content API publishes for the store and quizzes.
type Bundle struct {
	Items   []model.Item
	Manuls  []model.Manul
	Quizzes []model.Quiz
}

type APIError struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Errors []APIError `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("content api error: %v", e.Errors)
}
