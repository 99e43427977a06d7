package domain

import (
	"strings"
	"time"

	"github.com/victornm/livequiz/internal/errors"
)

const (
	MinOptions = 2
	MaxOptions = 6
)

// Quiz is the immutable question sequence a session is played from.
type Quiz struct {
	QuizID      string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Questions   []Question `json:"questions"`
	CreatedBy   string     `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type Question struct {
	QuestionID         string   `json:"id"`
	Text               string   `json:"text"`
	Options            []string `json:"options"`
	CorrectAnswerIndex int      `json:"correctAnswer"`
	TimeLimitSeconds   int      `json:"timeLimit"`
	Points             int      `json:"points"`
}

// TimeLimit returns the answering window of the question.
func (q Question) TimeLimit() time.Duration {
	return time.Duration(q.TimeLimitSeconds) * time.Second
}

// Validate checks the quiz can be played: it has questions, and every question is well-formed.
func (q Quiz) Validate() error {
	if len(q.Questions) == 0 {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("quiz %s has no questions", q.QuizID))
	}

	seen := make(map[string]struct{}, len(q.Questions))
	for i, qq := range q.Questions {
		if err := qq.Validate(); err != nil {
			return errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("question %d: %s", i, errors.Convert(err).Message),
				errors.WithCause(err))
		}

		if _, ok := seen[qq.QuestionID]; ok {
			return errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("question %d: duplicate question id %q", i, qq.QuestionID))
		}
		seen[qq.QuestionID] = struct{}{}
	}

	return nil
}

func (q Question) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef(format, args...))
	}

	switch {
	case q.QuestionID == "":
		return invalid("question id is empty")
	case strings.TrimSpace(q.Text) == "":
		return invalid("question text cannot be empty")
	case len(q.Options) < MinOptions:
		return invalid("a question must have at least %d answer options", MinOptions)
	case len(q.Options) > MaxOptions:
		return invalid("a question must have at most %d answer options", MaxOptions)
	case q.CorrectAnswerIndex < 0 || q.CorrectAnswerIndex >= len(q.Options):
		return invalid("correct answer index %d is out of range", q.CorrectAnswerIndex)
	case q.TimeLimitSeconds <= 0:
		return invalid("time limit must be a positive number")
	case q.Points <= 0:
		return invalid("points must be a positive number")
	}

	for _, o := range q.Options {
		if strings.TrimSpace(o) == "" {
			return invalid("answer options cannot be empty")
		}
	}

	return nil
}
