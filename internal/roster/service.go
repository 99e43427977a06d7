// Package roster manages who is playing in a session: joining, kicks and liveness.
package roster

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/roomcode"
	"github.com/victornm/livequiz/internal/store"
	"github.com/victornm/livequiz/internal/telemetry"
)

const defaultMaxNicknameLength = 20

type Config struct {
	EventBus          *event.Bus
	Store             *store.Store
	Clock             clockwork.Clock
	MaxNicknameLength int
}

type Service struct {
	eb          *event.Bus
	store       *store.Store
	clock       clockwork.Clock
	maxNickname int
}

func NewService(c Config) *Service {
	s := &Service{
		eb:          c.EventBus,
		store:       c.Store,
		clock:       c.Clock,
		maxNickname: c.MaxNicknameLength,
	}

	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}

	if s.maxNickname <= 0 {
		s.maxNickname = defaultMaxNicknameLength
	}

	return s
}

// ValidateNickname trims a nickname and checks it is usable.
func ValidateNickname(nickname string, maxLen int) (string, error) {
	n := strings.TrimSpace(nickname)
	if n == "" {
		return "", errors.New(errors.CodeInvalidArgument, errors.WithMessagef("nickname cannot be empty"))
	}

	if maxLen > 0 && utf8.RuneCountInString(n) > maxLen {
		return "", errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("nickname cannot be longer than %d characters", maxLen))
	}

	return n, nil
}

type JoinRequest struct {
	RoomCode string
	Nickname string
}

type JoinResponse struct {
	PlayerID string
	// Token authorizes the player's own actions. Only the joiner ever receives it.
	Token   string
	Session *domain.GameSession
}

// Join adds a player to the session behind the room code.
func (s *Service) Join(ctx context.Context, req JoinRequest) (*JoinResponse, error) {
	nickname, err := ValidateNickname(req.Nickname, s.maxNickname)
	if err != nil {
		return nil, err
	}

	code, err := roomcode.Parse(req.RoomCode)
	if err != nil {
		return nil, err
	}

	found, err := s.store.FindByRoomCode(ctx, code)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generate player ID: %w", err)
	}

	token, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generate player token: %w", err)
	}

	now := s.clock.Now()
	ss, err := s.store.Update(ctx, found.SessionID, func(ss *domain.GameSession) error {
		if err := checkJoinable(ss); err != nil {
			return err
		}

		if ss.PlayerByNickname(nickname) != nil {
			return errors.New(errors.CodeAlreadyExists,
				errors.WithReason(errors.ReasonNicknameTaken),
				errors.WithMessagef("nickname %q is already taken in this game", nickname))
		}

		ss.Players = append(ss.Players, domain.Player{
			PlayerID:    id.String(),
			Nickname:    nickname,
			Answers:     []domain.PlayerAnswer{},
			IsConnected: true,
			JoinedAt:    now,
			Token:       token.String(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.PlayersJoined.Inc()
	s.eb.Publish(ctx, domain.EventSessionUpdated{Session: *ss})

	return &JoinResponse{
		PlayerID: id.String(),
		Token:    token.String(),
		Session:  ss,
	}, nil
}

func checkJoinable(ss *domain.GameSession) error {
	switch {
	case ss.Status.Joinable():
		return nil
	case ss.Status == domain.StatusFinished:
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonGameEnded),
			errors.WithMessagef("game already ended"))
	default:
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonNotJoinable),
			errors.WithMessagef("game cannot be joined while the answer is shown, try again in a moment"))
	}
}

type KickRequest struct {
	SessionID string
	HostID    string
	PlayerID  string
}

// Kick removes a player from the session. Only the host may kick, and not after the game ended.
func (s *Service) Kick(ctx context.Context, req KickRequest) (*domain.GameSession, error) {
	var kicked domain.Player

	ss, err := s.store.Update(ctx, req.SessionID, func(ss *domain.GameSession) error {
		if !ss.IsHost(req.HostID) {
			return errNotHost(ss.SessionID)
		}

		if ss.Status.Terminal() {
			return errors.New(errors.CodeFailedPrecondition,
				errors.WithReason(errors.ReasonGameEnded),
				errors.WithMessagef("game already ended"))
		}

		p := ss.Player(req.PlayerID)
		if p == nil {
			return errors.New(errors.CodeNotFound,
				errors.WithMessagef("player %s is not in game %s", req.PlayerID, ss.SessionID))
		}

		kicked = *p
		ss.RemovePlayer(req.PlayerID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.PlayersKicked.Inc()

	s.eb.Publish(ctx, domain.EventPlayerKicked{
		SessionID: ss.SessionID,
		PlayerID:  kicked.PlayerID,
		Nickname:  kicked.Nickname,
	})
	s.eb.Publish(ctx, domain.EventSessionUpdated{Session: *ss})

	return ss, nil
}

type SetConnectedRequest struct {
	SessionID string
	PlayerID  string
	Token     string
	Connected bool
}

// SetConnected updates the liveness flag of a player. It never changes the roster or scores and
// is a no-op for players that are gone. Only the player's own token may change the flag.
func (s *Service) SetConnected(ctx context.Context, req SetConnectedRequest) (*domain.GameSession, error) {
	changed := false

	ss, err := s.store.Update(ctx, req.SessionID, func(ss *domain.GameSession) error {
		changed = false

		p := ss.Player(req.PlayerID)
		if p == nil {
			return store.ErrNoChange
		}

		if !p.HasToken(req.Token) {
			return errNotPlayer(req.PlayerID)
		}

		if p.IsConnected == req.Connected {
			return store.ErrNoChange
		}

		p.IsConnected = req.Connected
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.eb.Publish(ctx, domain.EventSessionUpdated{Session: *ss})
	}

	return ss, nil
}

type LeaveRequest struct {
	SessionID string
	PlayerID  string
	Token     string
}

// Leave marks the player as gone. The entry and its answers stay on the leaderboard.
func (s *Service) Leave(ctx context.Context, req LeaveRequest) error {
	ss, err := s.store.Get(ctx, req.SessionID)
	if err != nil {
		return err
	}

	if _, err := ss.Authorize(req.PlayerID, req.Token); err != nil {
		return err
	}

	_, err = s.SetConnected(ctx, SetConnectedRequest{
		SessionID: req.SessionID,
		PlayerID:  req.PlayerID,
		Token:     req.Token,
		Connected: false,
	})
	return err
}

func errNotPlayer(playerID string) error {
	return errors.New(errors.CodePermissionDenied,
		errors.WithMessagef("not allowed to act as player %s", playerID))
}

func errNotHost(sessionID string) error {
	return errors.New(errors.CodePermissionDenied,
		errors.WithMessagef("only the host can manage game %s", sessionID))
}
