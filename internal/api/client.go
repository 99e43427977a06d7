package api

import (
	"context"
	stderrors "errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/participant"
	"github.com/victornm/livequiz/internal/roster"
	"github.com/victornm/livequiz/internal/score"
)

// Client calls the game service as one user.
type Client struct {
	cc     grpc.ClientConnInterface
	userID string
}

func NewClient(cc grpc.ClientConnInterface, userID string) *Client {
	return &Client{cc: cc, userID: userID}
}

// As returns a client for the same connection acting as another user.
func (c *Client) As(userID string) *Client {
	return &Client{cc: c.cc, userID: userID}
}

func (c *Client) StartGame(ctx context.Context, quizID string) (*domain.GameSession, error) {
	var resp SessionResponse
	if err := c.invoke(ctx, "StartGame", &StartGameRequest{QuizID: quizID}, &resp); err != nil {
		return nil, err
	}
	return resp.Session.toDomain(), nil
}

// Act applies a host action to a session.
func (c *Client) Act(ctx context.Context, sessionID string, a domain.Action) (*domain.GameSession, error) {
	method, ok := actionMethods[a]
	if !ok {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unknown action %q", a))
	}

	var resp SessionResponse
	if err := c.invoke(ctx, method, &SessionRequest{SessionID: sessionID}, &resp); err != nil {
		return nil, err
	}
	return resp.Session.toDomain(), nil
}

var actionMethods = map[domain.Action]string{
	domain.ActionStartQuiz:       "StartQuiz",
	domain.ActionShowAnswer:      "ShowAnswer",
	domain.ActionShowLeaderboard: "ShowLeaderboard",
	domain.ActionNextQuestion:    "NextQuestion",
	domain.ActionSkip:            "Skip",
	domain.ActionEndGame:         "EndGame",
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.invoke(ctx, "DeleteSession", &SessionRequest{SessionID: sessionID}, &Empty{})
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (*domain.GameSession, error) {
	var resp SessionResponse
	if err := c.invoke(ctx, "GetSession", &SessionRequest{SessionID: sessionID}, &resp); err != nil {
		return nil, err
	}
	return resp.Session.toDomain(), nil
}

func (c *Client) ListSessions(ctx context.Context) ([]*domain.GameSession, error) {
	var resp ListSessionsResponse
	if err := c.invoke(ctx, "ListSessions", &Empty{}, &resp); err != nil {
		return nil, err
	}

	out := make([]*domain.GameSession, 0, len(resp.Sessions))
	for _, s := range resp.Sessions {
		out = append(out, s.toDomain())
	}
	return out, nil
}

func (c *Client) Join(ctx context.Context, roomCode, nickname string) (*roster.JoinResponse, error) {
	var resp JoinResponse
	if err := c.invoke(ctx, "Join", &JoinRequest{RoomCode: roomCode, Nickname: nickname}, &resp); err != nil {
		return nil, err
	}
	return &roster.JoinResponse{PlayerID: resp.PlayerID, Token: resp.Token, Session: resp.Session.toDomain()}, nil
}

func (c *Client) Kick(ctx context.Context, sessionID, playerID string) (*domain.GameSession, error) {
	var resp SessionResponse
	if err := c.invoke(ctx, "Kick", &PlayerRequest{SessionID: sessionID, PlayerID: playerID}, &resp); err != nil {
		return nil, err
	}
	return resp.Session.toDomain(), nil
}

func (c *Client) GetLeaderboard(ctx context.Context, sessionID string) (*Leaderboard, error) {
	var resp Leaderboard
	if err := c.invoke(ctx, "GetLeaderboard", &SessionRequest{SessionID: sessionID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) SubmitAnswer(ctx context.Context, req score.SubmitAnswerRequest) (*score.SubmitAnswerResponse, error) {
	var resp SubmitAnswerResponse
	err := c.invoke(ctx, "SubmitAnswer", &SubmitAnswerRequest{
		SessionID:      req.SessionID,
		PlayerID:       req.PlayerID,
		Token:          req.Token,
		QuestionID:     req.QuestionID,
		SelectedOption: req.SelectedOption,
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := &score.SubmitAnswerResponse{
		Accepted:   resp.Accepted,
		TotalScore: resp.TotalScore,
		Session:    resp.Session.toDomain(),
	}
	if resp.Answer != nil {
		out.Answer = resp.Answer.toDomain()
	}
	return out, nil
}

func (c *Client) Leave(ctx context.Context, req roster.LeaveRequest) error {
	return c.invoke(ctx, "Leave", &PlayerRequest{SessionID: req.SessionID, PlayerID: req.PlayerID, Token: req.Token}, &Empty{})
}

// Watch opens a snapshot stream. The player is marked connected while it is open; an empty
// playerID watches without joining.
func (c *Client) Watch(ctx context.Context, sessionID, playerID, token string) (participant.Stream, error) {
	ctx, cancel := context.WithCancel(c.outgoing(ctx))

	cs, err := c.cc.NewStream(ctx, watchSessionDesc, fullMethod("WatchSession"), grpc.CallContentSubtype(codecName))
	if err != nil {
		cancel()
		return nil, errors.FromGRPC(err)
	}

	if err := cs.SendMsg(&PlayerRequest{SessionID: sessionID, PlayerID: playerID, Token: token}); err != nil {
		cancel()
		return nil, errors.FromGRPC(err)
	}

	if err := cs.CloseSend(); err != nil {
		cancel()
		return nil, errors.FromGRPC(err)
	}

	return &watchStream{cs: cs, cancel: cancel}, nil
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	err := c.cc.Invoke(c.outgoing(ctx), fullMethod(method), in, out, grpc.CallContentSubtype(codecName))
	return errors.FromGRPC(err)
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	if c.userID == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, UserIDHeader, c.userID)
}

type watchStream struct {
	cs     grpc.ClientStream
	cancel context.CancelFunc
}

// Recv returns io.EOF when the server ended the stream normally.
func (s *watchStream) Recv() (*domain.GameSession, error) {
	var msg Session
	if err := s.cs.RecvMsg(&msg); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, errors.FromGRPC(err)
	}
	return msg.toDomain(), nil
}

func (s *watchStream) Close() error {
	s.cancel()
	return nil
}
