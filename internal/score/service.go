package score

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/store"
	"github.com/victornm/livequiz/internal/telemetry"
)

// Evaluate scores one submission. The no-answer sentinel is always wrong and worth nothing; a
// correct answer earns the question's full points regardless of speed.
func Evaluate(q domain.Question, selected int, startedAt, now time.Time) domain.PlayerAnswer {
	a := domain.PlayerAnswer{
		QuestionID:     q.QuestionID,
		SelectedOption: selected,
	}

	if !startedAt.IsZero() {
		a.TimeToAnswerMilli = max(now.Sub(startedAt).Milliseconds(), 0)
	}

	if selected != domain.NoAnswer && selected == q.CorrectAnswerIndex {
		a.IsCorrect = true
		a.Points = q.Points
	}

	return a
}

type Config struct {
	EventBus *event.Bus
	Store    *store.Store
	Clock    clockwork.Clock
}

type Service struct {
	eb    *event.Bus
	store *store.Store
	clock clockwork.Clock
}

func NewService(c Config) *Service {
	s := &Service{
		eb:    c.EventBus,
		store: c.Store,
		clock: c.Clock,
	}

	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}

	return s
}

type SubmitAnswerRequest struct {
	SessionID string
	PlayerID  string
	// Token is the secret the player received on join.
	Token string
	// SelectedOption is an option index or domain.NoAnswer.
	SelectedOption int
	// QuestionID, when set, pins the submission to a question. A submission for a question that
	// is no longer current is ignored.
	QuestionID string
}

type SubmitAnswerResponse struct {
	// Accepted is false when the session was not taking answers and nothing was recorded.
	Accepted bool
	Answer   domain.PlayerAnswer
	// TotalScore is the player's score after the submission.
	TotalScore int
	Session    *domain.GameSession
}

// SubmitAnswer records the player's answer to the current question. Submissions outside the
// answering window are ignored without error. A second answer to the same question fails with
// errors.ErrDuplicateAnswer, and a request without the player's token with PermissionDenied.
func (s *Service) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*SubmitAnswerResponse, error) {
	if req.SelectedOption < domain.NoAnswer {
		return nil, errInvalidOption(req.SelectedOption)
	}

	now := s.clock.Now()
	resp := &SubmitAnswerResponse{}

	ss, err := s.store.Update(ctx, req.SessionID, func(ss *domain.GameSession) error {
		resp.Accepted = false

		p, err := ss.Authorize(req.PlayerID, req.Token)
		if err != nil {
			return err
		}

		if !ss.Status.AcceptsAnswer(req.SelectedOption) {
			return store.ErrNoChange
		}

		q, ok := ss.CurrentQuestion()
		if !ok || (req.QuestionID != "" && req.QuestionID != q.QuestionID) {
			return store.ErrNoChange
		}

		if req.SelectedOption >= len(q.Options) {
			return errInvalidOption(req.SelectedOption)
		}

		if _, answered := p.Answer(q.QuestionID); answered {
			return errors.New(errors.CodeAlreadyExists,
				errors.WithReason(errors.ReasonDuplicateAnswer),
				errors.WithMessagef("answer is already submitted: session=%s player=%s question=%s", ss.SessionID, p.PlayerID, q.QuestionID))
		}

		a := Evaluate(q, req.SelectedOption, ss.QuestionStartedAt, now)
		p.Answers = append(p.Answers, a)
		p.Score += a.Points

		resp.Accepted = true
		resp.Answer = a
		resp.TotalScore = p.Score
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp.Session = ss
	if !resp.Accepted {
		return resp, nil
	}

	telemetry.AnswersSubmitted.WithLabelValues(correctness(resp.Answer)).Inc()

	s.eb.Publish(ctx, domain.EventSessionUpdated{
		Session: *ss,
	})

	return resp, nil
}

func correctness(a domain.PlayerAnswer) string {
	switch {
	case a.SelectedOption == domain.NoAnswer:
		return "timeout"
	case a.IsCorrect:
		return "correct"
	}
	return "incorrect"
}

func errInvalidOption(option int) error {
	return errors.New(errors.CodeInvalidArgument,
		errors.WithMessagef("option %d does not exist", option))
}
