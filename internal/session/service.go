package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/roomcode"
	"github.com/victornm/livequiz/internal/store"
	"github.com/victornm/livequiz/internal/telemetry"
)

// Quizzes is the read side of the quiz repository.
type Quizzes interface {
	GetQuiz(ctx context.Context, id string) (*domain.Quiz, error)
}

type Config struct {
	EventBus *event.Bus
	Store    *store.Store
	Quizzes  Quizzes
	Codes    *roomcode.Generator
	Clock    clockwork.Clock
}

type Service struct {
	eb      *event.Bus
	store   *store.Store
	quizzes Quizzes
	codes   *roomcode.Generator
	clock   clockwork.Clock
}

func NewService(c Config) *Service {
	s := &Service{
		eb:      c.EventBus,
		store:   c.Store,
		quizzes: c.Quizzes,
		codes:   c.Codes,
		clock:   c.Clock,
	}

	if s.codes == nil {
		s.codes = roomcode.NewGenerator(roomcode.GeneratorConfig{})
	}

	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}

	return s
}

// StartGameRequest represents a request to open a new game for a quiz.
type StartGameRequest struct {
	// HostID is the authenticated user starting the game. It must own the quiz.
	HostID string
	QuizID string
}

// StartGame opens a waiting session for the quiz under a fresh room code.
func (s *Service) StartGame(ctx context.Context, req StartGameRequest) (*domain.GameSession, error) {
	if req.HostID == "" {
		return nil, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("sign in to host a game"))
	}

	q, err := s.quizzes.GetQuiz(ctx, req.QuizID)
	if err != nil {
		return nil, err
	}

	if q.CreatedBy != req.HostID {
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("quiz %s does not belong to you", req.QuizID))
	}

	if err := q.Validate(); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}

	ss := &domain.GameSession{
		SessionID:            id.String(),
		Quiz:                 *q,
		HostID:               req.HostID,
		Status:               domain.StatusWaiting,
		CurrentQuestionIndex: 0,
		Players:              []domain.Player{},
		CreatedAt:            s.clock.Now(),
	}

	_, err = s.codes.Allocate(ctx, func(ctx context.Context, code string) error {
		ss.RoomCode = code
		return s.store.Create(ctx, ss)
	})
	if err != nil {
		return nil, err
	}

	telemetry.SessionsCreated.Inc()
	slog.InfoContext(ctx, "session: game started",
		"session_id", ss.SessionID,
		"room_code", ss.RoomCode,
		"quiz_id", q.QuizID,
	)

	s.eb.Publish(ctx, domain.EventSessionUpdated{Session: *ss})

	return ss, nil
}

// ActionRequest identifies a host command on a session.
type ActionRequest struct {
	SessionID string
	HostID    string
}

// StartQuiz shows the first question.
func (s *Service) StartQuiz(ctx context.Context, req ActionRequest) (*domain.GameSession, error) {
	return s.apply(ctx, req, domain.ActionStartQuiz)
}

// ShowAnswer closes the current question and reveals the correct option.
func (s *Service) ShowAnswer(ctx context.Context, req ActionRequest) (*domain.GameSession, error) {
	return s.apply(ctx, req, domain.ActionShowAnswer)
}

func (s *Service) ShowLeaderboard(ctx context.Context, req ActionRequest) (*domain.GameSession, error) {
	return s.apply(ctx, req, domain.ActionShowLeaderboard)
}

// NextQuestion moves from the leaderboard to the next question, or finishes after the last one.
func (s *Service) NextQuestion(ctx context.Context, req ActionRequest) (*domain.GameSession, error) {
	return s.apply(ctx, req, domain.ActionNextQuestion)
}

// Skip jumps straight to the next question, or finishes after the last one.
func (s *Service) Skip(ctx context.Context, req ActionRequest) (*domain.GameSession, error) {
	return s.apply(ctx, req, domain.ActionSkip)
}

func (s *Service) EndGame(ctx context.Context, req ActionRequest) (*domain.GameSession, error) {
	return s.apply(ctx, req, domain.ActionEndGame)
}

func (s *Service) apply(ctx context.Context, req ActionRequest, a domain.Action) (*domain.GameSession, error) {
	now := s.clock.Now()

	ss, err := s.store.Update(ctx, req.SessionID, func(ss *domain.GameSession) error {
		if !ss.IsHost(req.HostID) {
			return errNotHost(ss.SessionID)
		}
		return ss.Apply(a, now)
	})
	if err != nil {
		return nil, err
	}

	telemetry.Transitions.WithLabelValues(string(a)).Inc()
	slog.InfoContext(ctx, "session: transition applied",
		"session_id", ss.SessionID,
		"action", a,
		"status", ss.Status,
		"question_index", ss.CurrentQuestionIndex,
	)

	s.eb.Publish(ctx, domain.EventSessionUpdated{Session: *ss})

	return ss, nil
}

type GetSessionRequest struct {
	SessionID string
}

func (s *Service) GetSession(ctx context.Context, req GetSessionRequest) (*domain.GameSession, error) {
	return s.store.Get(ctx, req.SessionID)
}

type ListSessionsRequest struct {
	HostID string
}

// ListSessions returns the games hosted by the user, newest first.
func (s *Service) ListSessions(ctx context.Context, req ListSessionsRequest) ([]*domain.GameSession, error) {
	if req.HostID == "" {
		return nil, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("sign in to list your games"))
	}

	return s.store.ListByHost(ctx, req.HostID)
}

// DeleteSession removes a game. Everyone still watching it is told it no longer exists.
func (s *Service) DeleteSession(ctx context.Context, req ActionRequest) error {
	ss, err := s.store.Get(ctx, req.SessionID)
	if err != nil {
		return err
	}

	if !ss.IsHost(req.HostID) {
		return errNotHost(ss.SessionID)
	}

	return s.store.Delete(ctx, req.SessionID)
}

func errNotHost(sessionID string) error {
	return errors.New(errors.CodePermissionDenied,
		errors.WithMessagef("only the host can control game %s", sessionID))
}
