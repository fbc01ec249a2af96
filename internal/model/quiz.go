package model

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// DefaultUpcomingLimit is used when a caller asks for upcoming quizzes without a limit.
const DefaultUpcomingLimit = 5

type QuestionType string

const (
	QuestionMultipleChoice      QuestionType = "multipleChoice"
	QuestionTrueFalse           QuestionType = "trueFalse"
	QuestionImageIdentification QuestionType = "imageIdentification"
)

type Question struct {
	ID                 string       `json:"id"`
	Text               string       `json:"text"`
	ImageURL           *string      `json:"image_url,omitempty"`
	Type               QuestionType `json:"type"`
	Options            []string     `json:"options"`
	CorrectAnswerIndex int          `json:"correct_answer_index"`
	Explanation        string       `json:"explanation"`
}

type Quiz struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	ReleaseDate    time.Time  `json:"release_date"`
	ExpirationDate time.Time  `json:"expiration_date"`
	Questions      []Question `json:"questions"`
	RewardCurrency int64      `json:"reward_currency"`
	IsSpecialEvent bool       `json:"is_special_event"`
}

func (q Quiz) Validate() error {
	if strings.TrimSpace(q.ID) == "" {
		return fmt.Errorf("%w: quiz id is required", ErrValidation)
	}
	if !q.ExpirationDate.After(q.ReleaseDate) {
		return fmt.Errorf("%w: quiz %s expires before it is released", ErrValidation, q.ID)
	}
	if len(q.Questions) == 0 {
		return fmt.Errorf("%w: quiz %s has no questions", ErrValidation, q.ID)
	}
	if q.RewardCurrency < 0 {
		return fmt.Errorf("%w: quiz %s has negative reward", ErrValidation, q.ID)
	}
	if q.RewardCurrency > maxReward(len(q.Questions)) {
		return fmt.Errorf("%w: quiz %s reward %d is too large", ErrValidation, q.ID, q.RewardCurrency)
	}
	for i, question := range q.Questions {
		if len(question.Options) == 0 {
			return fmt.Errorf("%w: quiz %s question %d has no options", ErrValidation, q.ID, i)
		}
		if question.CorrectAnswerIndex < 0 || question.CorrectAnswerIndex >= len(question.Options) {
			return fmt.Errorf("%w: quiz %s question %d answer index %d out of range", ErrValidation, q.ID, i, question.CorrectAnswerIndex)
		}
	}
	return nil
}

// IsCurrent reports whether now falls inside [ReleaseDate, ExpirationDate].
func (q Quiz) IsCurrent(now time.Time) bool {
	return !now.Before(q.ReleaseDate) && !now.After(q.ExpirationDate)
}

func (q Quiz) MaxScore() int {
	return len(q.Questions)
}

// Reward converts a score into currency. Integer division truncates toward
// zero, so a partial score never rounds up.
func (q Quiz) Reward(score int) (int64, error) {
	questions := len(q.Questions)
	if questions == 0 {
		return 0, fmt.Errorf("%w: quiz %s has no questions", ErrValidation, q.ID)
	}
	if score < 0 || score > questions {
		return 0, fmt.Errorf("%w: score %d out of range 0..%d", ErrValidation, score, questions)
	}
	if q.RewardCurrency < 0 || q.RewardCurrency > maxReward(questions) {
		return 0, fmt.Errorf("%w: quiz %s reward %d out of range", ErrValidation, q.ID, q.RewardCurrency)
	}
	return q.RewardCurrency * int64(score) / int64(questions), nil
}

// maxReward is the largest reward whose product with any score fits in int64.
func maxReward(questions int) int64 {
	return math.MaxInt64 / int64(questions)
}

// Grade counts answers matching the correct option. Missing trailing answers count as wrong.
func (q Quiz) Grade(answers []int) (int, error) {
	if len(answers) > len(q.Questions) {
		return 0, fmt.Errorf("%w: got %d answers for %d questions", ErrValidation, len(answers), len(q.Questions))
	}
	score := 0
	for i, answer := range answers {
		if answer == q.Questions[i].CorrectAnswerIndex {
			score++
		}
	}
	return score, nil
}

// SelectCurrent returns the live quiz with the latest release date, or nil.
func SelectCurrent(quizzes []Quiz, now time.Time) *Quiz {
	var current *Quiz
	for i := range quizzes {
		q := quizzes[i]
		if !q.IsCurrent(now) {
			continue
		}
		if current == nil || q.ReleaseDate.After(current.ReleaseDate) {
			current = &q
		}
	}
	return current
}

// SelectUpcoming returns quizzes released after now, soonest first.
func SelectUpcoming(quizzes []Quiz, now time.Time, limit int) []Quiz {
	if limit <= 0 {
		limit = DefaultUpcomingLimit
	}
	upcoming := make([]Quiz, 0, len(quizzes))
	for _, q := range quizzes {
		if q.ReleaseDate.After(now) {
			upcoming = append(upcoming, q)
		}
	}
	sort.SliceStable(upcoming, func(i, j int) bool {
		return upcoming[i].ReleaseDate.Before(upcoming[j].ReleaseDate)
	})
	if len(upcoming) > limit {
		upcoming = upcoming[:limit]
	}
	return upcoming
}
