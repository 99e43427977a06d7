package api

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/roster"
	"github.com/victornm/livequiz/internal/score"
	"github.com/victornm/livequiz/internal/session"
	"github.com/victornm/livequiz/internal/store"
	"github.com/victornm/livequiz/internal/telemetry"
)

type Config struct {
	GRPC *grpc.Server
	// Router serves the websocket stream and the QR codes. Optional.
	Router       gin.IRouter
	EventBus     *event.Bus
	Store        *store.Store
	Session      *session.Service
	Roster       *roster.Service
	Score        *score.Service
	Leaderboard  *leaderboard.Service
	Redis        Redis
	PubsubPrefix string
	// BaseURL is the public address players join from, encoded in room QR codes.
	BaseURL string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	store *store.Store
	gss   *session.Service
	rs    *roster.Service
	ss    *score.Service
	ls    *leaderboard.Service

	redis   Redis
	prefix  string
	baseURL string
}

func New(c Config) *API {
	a := &API{
		store:   c.Store,
		gss:     c.Session,
		rs:      c.Roster,
		ss:      c.Score,
		ls:      c.Leaderboard,
		redis:   c.Redis,
		prefix:  c.PubsubPrefix,
		baseURL: c.BaseURL,
	}

	// gRPC APIs
	c.GRPC.RegisterService(&serviceDesc, a)

	// HTTP APIs
	if c.Router != nil {
		c.Router.GET("/sessions/:id/ws", a.watchSessionWS)
		c.Router.GET("/rooms/:code/qr", a.roomQR)
	}

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})
	c.EventBus.Subscribe(domain.EventNamePlayerKicked, func(ctx context.Context, e event.Event) error {
		return a.PublishPlayerKicked(ctx, e.(domain.EventPlayerKicked))
	})

	return a
}

func (a *API) StartGame(ctx context.Context, req *StartGameRequest) (*SessionResponse, error) {
	ss, err := a.gss.StartGame(ctx, session.StartGameRequest{
		HostID: UserID(ctx),
		QuizID: req.QuizID,
	})
	if err != nil {
		return nil, err
	}

	return &SessionResponse{Session: toSession(ss)}, nil
}

func (a *API) StartQuiz(ctx context.Context, req *SessionRequest) (*SessionResponse, error) {
	return a.hostAction(ctx, req, a.gss.StartQuiz)
}

func (a *API) ShowAnswer(ctx context.Context, req *SessionRequest) (*SessionResponse, error) {
	return a.hostAction(ctx, req, a.gss.ShowAnswer)
}

func (a *API) ShowLeaderboard(ctx context.Context, req *SessionRequest) (*SessionResponse, error) {
	return a.hostAction(ctx, req, a.gss.ShowLeaderboard)
}

func (a *API) NextQuestion(ctx context.Context, req *SessionRequest) (*SessionResponse, error) {
	return a.hostAction(ctx, req, a.gss.NextQuestion)
}

func (a *API) Skip(ctx context.Context, req *SessionRequest) (*SessionResponse, error) {
	return a.hostAction(ctx, req, a.gss.Skip)
}

func (a *API) EndGame(ctx context.Context, req *SessionRequest) (*SessionResponse, error) {
	return a.hostAction(ctx, req, a.gss.EndGame)
}

func (a *API) hostAction(
	ctx context.Context,
	req *SessionRequest,
	do func(context.Context, session.ActionRequest) (*domain.GameSession, error),
) (*SessionResponse, error) {
	ss, err := do(ctx, session.ActionRequest{
		SessionID: req.SessionID,
		HostID:    UserID(ctx),
	})
	if err != nil {
		return nil, err
	}

	return &SessionResponse{Session: toSession(ss)}, nil
}

func (a *API) DeleteSession(ctx context.Context, req *SessionRequest) (*Empty, error) {
	err := a.gss.DeleteSession(ctx, session.ActionRequest{
		SessionID: req.SessionID,
		HostID:    UserID(ctx),
	})
	if err != nil {
		return nil, err
	}

	return &Empty{}, nil
}

func (a *API) GetSession(ctx context.Context, req *SessionRequest) (*SessionResponse, error) {
	ss, err := a.gss.GetSession(ctx, session.GetSessionRequest{SessionID: req.SessionID})
	if err != nil {
		return nil, err
	}

	return &SessionResponse{Session: toSession(ss)}, nil
}

func (a *API) ListSessions(ctx context.Context, _ *Empty) (*ListSessionsResponse, error) {
	list, err := a.gss.ListSessions(ctx, session.ListSessionsRequest{HostID: UserID(ctx)})
	if err != nil {
		return nil, err
	}

	resp := &ListSessionsResponse{Sessions: make([]*Session, 0, len(list))}
	for _, ss := range list {
		resp.Sessions = append(resp.Sessions, toSession(ss))
	}

	return resp, nil
}

func (a *API) Join(ctx context.Context, req *JoinRequest) (*JoinResponse, error) {
	resp, err := a.rs.Join(ctx, roster.JoinRequest{
		RoomCode: req.RoomCode,
		Nickname: req.Nickname,
	})
	if err != nil {
		return nil, err
	}

	return &JoinResponse{
		PlayerID: resp.PlayerID,
		Token:    resp.Token,
		Session:  toSession(resp.Session),
	}, nil
}

func (a *API) Leave(ctx context.Context, req *PlayerRequest) (*Empty, error) {
	err := a.rs.Leave(ctx, roster.LeaveRequest{
		SessionID: req.SessionID,
		PlayerID:  req.PlayerID,
		Token:     req.Token,
	})
	if err != nil {
		return nil, err
	}

	return &Empty{}, nil
}

func (a *API) Kick(ctx context.Context, req *PlayerRequest) (*SessionResponse, error) {
	ss, err := a.rs.Kick(ctx, roster.KickRequest{
		SessionID: req.SessionID,
		HostID:    UserID(ctx),
		PlayerID:  req.PlayerID,
	})
	if err != nil {
		return nil, err
	}

	return &SessionResponse{Session: toSession(ss)}, nil
}

func (a *API) SubmitAnswer(ctx context.Context, req *SubmitAnswerRequest) (*SubmitAnswerResponse, error) {
	resp, err := a.ss.SubmitAnswer(ctx, score.SubmitAnswerRequest{
		SessionID:      req.SessionID,
		PlayerID:       req.PlayerID,
		Token:          req.Token,
		SelectedOption: req.SelectedOption,
		QuestionID:     req.QuestionID,
	})
	if err != nil {
		return nil, err
	}

	out := &SubmitAnswerResponse{
		Accepted:   resp.Accepted,
		TotalScore: resp.TotalScore,
		Session:    toSession(resp.Session),
	}
	if resp.Accepted {
		ans := toAnswer(resp.Answer)
		out.Answer = &ans
	}

	return out, nil
}

func (a *API) GetLeaderboard(ctx context.Context, req *SessionRequest) (*Leaderboard, error) {
	l, err := a.ls.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{
		SessionID: req.SessionID,
	})
	if err != nil {
		return nil, err
	}

	return toLeaderboard(*l), nil
}

// WatchSession streams session snapshots until the game finishes, the player is removed or the
// client goes away. A watching player is marked connected while the stream is open.
func (a *API) WatchSession(req *PlayerRequest, stream grpc.ServerStream) error {
	return a.watch(stream.Context(), req.SessionID, req.PlayerID, req.Token, func(ss *domain.GameSession) error {
		return stream.SendMsg(toSession(ss))
	})
}

func (a *API) watch(ctx context.Context, sessionID, playerID, token string, send func(*domain.GameSession) error) error {
	sub, err := a.store.Subscribe(ctx, sessionID)
	if err != nil {
		return err
	}
	defer func() {
		if err := sub.Close(); err != nil {
			slog.ErrorContext(ctx, "api: close subscription failed", "session_id", sessionID, "error", err)
		}
	}()

	telemetry.Watchers.Inc()
	defer telemetry.Watchers.Dec()

	if playerID != "" {
		if err := a.setConnected(ctx, sessionID, playerID, token, true); err != nil {
			return err
		}
		defer func() {
			// The stream context is already done here.
			ctx := context.WithoutCancel(ctx)
			if err := a.setConnected(ctx, sessionID, playerID, token, false); err != nil && !stderrors.Is(err, errors.New(errors.CodeNotFound)) {
				slog.ErrorContext(ctx, "api: mark player disconnected failed",
					"session_id", sessionID,
					"player_id", playerID,
					"error", err,
				)
			}
		}()
	}

	for {
		ss, err := sub.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := send(ss); err != nil {
			return err
		}

		if ss.Status.Terminal() {
			return nil
		}

		if playerID != "" && ss.Player(playerID) == nil {
			return nil
		}
	}
}

func (a *API) setConnected(ctx context.Context, sessionID, playerID, token string, connected bool) error {
	_, err := a.rs.SetConnected(ctx, roster.SetConnectedRequest{
		SessionID: sessionID,
		PlayerID:  playerID,
		Token:     token,
		Connected: connected,
	})
	return err
}
