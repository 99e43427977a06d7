package session_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/roomcode"
	"github.com/victornm/livequiz/internal/session"
	"github.com/victornm/livequiz/internal/store"
)

var t0 = time.UnixMilli(1_700_000_000_000).UTC()

func TestService_StartGame(t *testing.T) {
	tests := map[string]struct {
		request session.StartGameRequest
		wantErr error
	}{
		"owner should start a game": {
			request: session.StartGameRequest{HostID: "host", QuizID: "capitals"},
		},
		"other users should not start a game from the quiz": {
			request: session.StartGameRequest{HostID: "intruder", QuizID: "capitals"},
			wantErr: errors.New(errors.CodePermissionDenied),
		},
		"anonymous users should not start a game": {
			request: session.StartGameRequest{QuizID: "capitals"},
			wantErr: errors.New(errors.CodeUnauthenticated),
		},
		"unknown quiz should not be found": {
			request: session.StartGameRequest{HostID: "host", QuizID: "nope"},
			wantErr: errors.New(errors.CodeNotFound),
		},
		"quiz without questions should not be played": {
			request: session.StartGameRequest{HostID: "host", QuizID: "empty"},
			wantErr: errors.New(errors.CodeFailedPrecondition),
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			s, st, _ := makeService(t)

			ss, err := s.StartGame(context.Background(), tt.request)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, domain.StatusWaiting, ss.Status)
			assert.Equal(t, 0, ss.CurrentQuestionIndex)
			assert.True(t, roomcode.Valid(ss.RoomCode))
			assert.Empty(t, ss.Players)
			assert.Equal(t, t0, ss.CreatedAt)

			got, err := st.FindByRoomCode(context.Background(), ss.RoomCode)
			require.NoError(t, err)
			assert.Equal(t, ss.SessionID, got.SessionID)
		})
	}
}

func TestService_StartGame_RoomCodeCollision(t *testing.T) {
	ctx := context.Background()

	// Both generators read the same bytes, so the second game first draws the code of the first.
	seed := bytes.Repeat([]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, 2)
	next := append(append([]byte{}, seed[:12]...), bytes.Repeat([]byte{20}, 12)...)

	st := makeStore(t)
	first := makeServiceWith(st, roomcode.NewGenerator(roomcode.GeneratorConfig{Rand: bytes.NewReader(seed)}))
	second := makeServiceWith(st, roomcode.NewGenerator(roomcode.GeneratorConfig{Rand: bytes.NewReader(next)}))

	a, err := first.StartGame(ctx, session.StartGameRequest{HostID: "host", QuizID: "capitals"})
	require.NoError(t, err)

	b, err := second.StartGame(ctx, session.StartGameRequest{HostID: "host", QuizID: "capitals"})
	require.NoError(t, err)

	assert.NotEqual(t, a.RoomCode, b.RoomCode)
	assert.Equal(t, "UUUUUU", b.RoomCode)
}

func TestService_FullGame(t *testing.T) {
	ctx := context.Background()
	s, _, clock := makeService(t)

	ss, err := s.StartGame(ctx, session.StartGameRequest{HostID: "host", QuizID: "capitals"})
	require.NoError(t, err)
	req := session.ActionRequest{SessionID: ss.SessionID, HostID: "host"}

	steps := []struct {
		do        func(context.Context, session.ActionRequest) (*domain.GameSession, error)
		wantState domain.Status
		wantIndex int
	}{
		{s.StartQuiz, domain.StatusQuestion, 0},
		{s.ShowAnswer, domain.StatusAnswerReveal, 0},
		{s.ShowLeaderboard, domain.StatusLeaderboard, 0},
		{s.NextQuestion, domain.StatusQuestion, 1},
		{s.ShowAnswer, domain.StatusAnswerReveal, 1},
		{s.ShowLeaderboard, domain.StatusLeaderboard, 1},
		{s.NextQuestion, domain.StatusFinished, 1},
	}

	for i, step := range steps {
		clock.Advance(time.Second)

		got, err := step.do(ctx, req)
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, step.wantState, got.Status, "step %d", i)
		assert.Equal(t, step.wantIndex, got.CurrentQuestionIndex, "step %d", i)
	}

	_, err = s.EndGame(ctx, req)
	require.ErrorIs(t, err, errors.ErrIllegalAction, "finished games should stay finished")
}

func TestService_Transitions(t *testing.T) {
	type (
		inputs struct {
			// prepare drives the session into the state under test.
			prepare []domain.Action
			action  func(s *session.Service) func(context.Context, session.ActionRequest) (*domain.GameSession, error)
			hostID  string
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, before, after *domain.GameSession, err error)
	}{
		"skip on the last question should finish the game": {
			arrange: func() inputs {
				return inputs{
					prepare: []domain.Action{domain.ActionStartQuiz, domain.ActionSkip},
					action:  func(s *session.Service) func(context.Context, session.ActionRequest) (*domain.GameSession, error) { return s.Skip },
				}
			},
			assert: func(t *testing.T, before, after *domain.GameSession, err error) {
				require.NoError(t, err)
				assert.Equal(t, 1, before.CurrentQuestionIndex)
				assert.Equal(t, domain.StatusFinished, after.Status)
				assert.Equal(t, 1, after.CurrentQuestionIndex)
			},
		},
		"skip during the reveal should go to the next question with a new start time": {
			arrange: func() inputs {
				return inputs{
					prepare: []domain.Action{domain.ActionStartQuiz, domain.ActionShowAnswer},
					action:  func(s *session.Service) func(context.Context, session.ActionRequest) (*domain.GameSession, error) { return s.Skip },
				}
			},
			assert: func(t *testing.T, before, after *domain.GameSession, err error) {
				require.NoError(t, err)
				assert.Equal(t, domain.StatusQuestion, after.Status)
				assert.Equal(t, 1, after.CurrentQuestionIndex)
				assert.True(t, after.QuestionStartedAt.After(before.QuestionStartedAt))
			},
		},
		"start quiz from the leaderboard should be illegal and change nothing": {
			arrange: func() inputs {
				return inputs{
					prepare: []domain.Action{domain.ActionStartQuiz, domain.ActionShowAnswer, domain.ActionShowLeaderboard},
					action:  func(s *session.Service) func(context.Context, session.ActionRequest) (*domain.GameSession, error) { return s.StartQuiz },
				}
			},
			assert: func(t *testing.T, before, after *domain.GameSession, err error) {
				require.ErrorIs(t, err, errors.ErrIllegalAction)
				assert.Equal(t, before, after)
			},
		},
		"next question during a question should be illegal": {
			arrange: func() inputs {
				return inputs{
					prepare: []domain.Action{domain.ActionStartQuiz},
					action:  func(s *session.Service) func(context.Context, session.ActionRequest) (*domain.GameSession, error) { return s.NextQuestion },
				}
			},
			assert: func(t *testing.T, before, after *domain.GameSession, err error) {
				require.ErrorIs(t, err, errors.ErrIllegalAction)
				assert.Equal(t, before, after)
			},
		},
		"end game from the lobby should finish": {
			arrange: func() inputs {
				return inputs{
					action: func(s *session.Service) func(context.Context, session.ActionRequest) (*domain.GameSession, error) { return s.EndGame },
				}
			},
			assert: func(t *testing.T, before, after *domain.GameSession, err error) {
				require.NoError(t, err)
				assert.Equal(t, domain.StatusFinished, after.Status)
			},
		},
		"players should not control the game": {
			arrange: func() inputs {
				return inputs{
					action: func(s *session.Service) func(context.Context, session.ActionRequest) (*domain.GameSession, error) { return s.StartQuiz },
					hostID: "player",
				}
			},
			assert: func(t *testing.T, before, after *domain.GameSession, err error) {
				require.ErrorIs(t, err, errors.New(errors.CodePermissionDenied))
				assert.Equal(t, before, after)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			in := tt.arrange()
			ctx := context.Background()
			s, st, clock := makeService(t)

			ss, err := s.StartGame(ctx, session.StartGameRequest{HostID: "host", QuizID: "capitals"})
			require.NoError(t, err)

			for _, a := range in.prepare {
				clock.Advance(time.Second)
				_, err := st.Update(ctx, ss.SessionID, func(ss *domain.GameSession) error {
					return ss.Apply(a, clock.Now())
				})
				require.NoError(t, err)
			}

			before, err := st.Get(ctx, ss.SessionID)
			require.NoError(t, err)

			host := in.hostID
			if host == "" {
				host = "host"
			}

			clock.Advance(time.Second)
			_, err = in.action(s)(ctx, session.ActionRequest{SessionID: ss.SessionID, HostID: host})

			after, gerr := st.Get(ctx, ss.SessionID)
			require.NoError(t, gerr)

			tt.assert(t, before, after, err)
		})
	}
}

func TestService_ListAndDeleteSessions(t *testing.T) {
	ctx := context.Background()
	s, st, clock := makeService(t)

	a, err := s.StartGame(ctx, session.StartGameRequest{HostID: "host", QuizID: "capitals"})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	b, err := s.StartGame(ctx, session.StartGameRequest{HostID: "host", QuizID: "capitals"})
	require.NoError(t, err)

	list, err := s.ListSessions(ctx, session.ListSessionsRequest{HostID: "host"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, b.SessionID, list[0].SessionID)
	assert.Equal(t, a.SessionID, list[1].SessionID)

	err = s.DeleteSession(ctx, session.ActionRequest{SessionID: a.SessionID, HostID: "player"})
	require.ErrorIs(t, err, errors.New(errors.CodePermissionDenied))

	require.NoError(t, s.DeleteSession(ctx, session.ActionRequest{SessionID: a.SessionID, HostID: "host"}))

	_, err = s.GetSession(ctx, session.GetSessionRequest{SessionID: a.SessionID})
	require.ErrorIs(t, err, errors.New(errors.CodeNotFound))

	_, err = st.FindByRoomCode(ctx, a.RoomCode)
	require.ErrorIs(t, err, errors.New(errors.CodeNotFound))

	list, err = s.ListSessions(ctx, session.ListSessionsRequest{HostID: "host"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

type quizzes map[string]domain.Quiz

func (q quizzes) GetQuiz(_ context.Context, id string) (*domain.Quiz, error) {
	quiz, ok := q[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("quiz %s not found", id))
	}
	return &quiz, nil
}

var testQuizzes = quizzes{
	"capitals": {
		QuizID:    "capitals",
		Title:     "Capitals",
		CreatedBy: "host",
		Questions: []domain.Question{
			{QuestionID: "fr", Text: "Capital of France?", Options: []string{"Berlin", "Paris"}, CorrectAnswerIndex: 1, TimeLimitSeconds: 10, Points: 1000},
			{QuestionID: "jp", Text: "Capital of Japan?", Options: []string{"Tokyo", "Kyoto"}, CorrectAnswerIndex: 0, TimeLimitSeconds: 10, Points: 1000},
		},
	},
	"empty": {
		QuizID:    "empty",
		CreatedBy: "host",
	},
}

func makeService(t *testing.T) (*session.Service, *store.Store, *clockwork.FakeClock) {
	st := makeStore(t)
	clock := clockwork.NewFakeClockAt(t0)

	s := session.NewService(session.Config{
		EventBus: event.NewBus(),
		Store:    st,
		Quizzes:  testQuizzes,
		Clock:    clock,
	})

	return s, st, clock
}

func makeServiceWith(st *store.Store, codes *roomcode.Generator) *session.Service {
	return session.NewService(session.Config{
		EventBus: event.NewBus(),
		Store:    st,
		Quizzes:  testQuizzes,
		Codes:    codes,
		Clock:    clockwork.NewFakeClockAt(t0),
	})
}

func makeStore(t *testing.T) *store.Store {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	return store.New(store.Config{Redis: rc, Prefix: "test"})
}
