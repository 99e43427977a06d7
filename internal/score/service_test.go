package score_test

import (
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
	"github.com/victornm/livequiz/internal/score"
	"github.com/victornm/livequiz/internal/store"
)

var t0 = time.UnixMilli(1_700_000_000_000).UTC()

var question = domain.Question{
	QuestionID:         "q1",
	Text:               "2 + 1?",
	Options:            []string{"1", "2", "3", "4"},
	CorrectAnswerIndex: 2,
	TimeLimitSeconds:   10,
	Points:             1000,
}

func TestEvaluate(t *testing.T) {
	tests := map[string]struct {
		selected  int
		startedAt time.Time
		now       time.Time
		want      domain.PlayerAnswer
	}{
		"correct answer should earn full points": {
			selected:  2,
			startedAt: t0,
			now:       t0.Add(1500 * time.Millisecond),
			want:      domain.PlayerAnswer{QuestionID: "q1", SelectedOption: 2, IsCorrect: true, TimeToAnswerMilli: 1500, Points: 1000},
		},
		"wrong answer should earn nothing": {
			selected:  1,
			startedAt: t0,
			now:       t0.Add(time.Second),
			want:      domain.PlayerAnswer{QuestionID: "q1", SelectedOption: 1, TimeToAnswerMilli: 1000},
		},
		"no answer should always be wrong": {
			selected:  domain.NoAnswer,
			startedAt: t0,
			now:       t0.Add(10 * time.Second),
			want:      domain.PlayerAnswer{QuestionID: "q1", SelectedOption: domain.NoAnswer, TimeToAnswerMilli: 10000},
		},
		"missing start time should count as zero": {
			selected: 2,
			now:      t0,
			want:     domain.PlayerAnswer{QuestionID: "q1", SelectedOption: 2, IsCorrect: true, Points: 1000},
		},
		"clock skew should never give negative time": {
			selected:  2,
			startedAt: t0,
			now:       t0.Add(-time.Second),
			want:      domain.PlayerAnswer{QuestionID: "q1", SelectedOption: 2, IsCorrect: true, Points: 1000},
		},
		"slow correct answer should still earn full points": {
			selected:  2,
			startedAt: t0,
			now:       t0.Add(9999 * time.Millisecond),
			want:      domain.PlayerAnswer{QuestionID: "q1", SelectedOption: 2, IsCorrect: true, TimeToAnswerMilli: 9999, Points: 1000},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, score.Evaluate(question, tt.selected, tt.startedAt, tt.now))
		})
	}
}

func TestService_SubmitAnswer(t *testing.T) {
	type (
		inputs struct {
			status    domain.Status
			answered  bool
			request   score.SubmitAnswerRequest
			submitted time.Duration
		}

		outputs struct {
			resp    *score.SubmitAnswerResponse
			err     error
			session *domain.GameSession
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"correct answer should be recorded and add the points": {
			arrange: func() inputs {
				return inputs{
					status:    domain.StatusQuestion,
					request:   score.SubmitAnswerRequest{SessionID: "s1", PlayerID: "p1", Token: "t1", SelectedOption: 2},
					submitted: 2 * time.Second,
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				require.True(t, out.resp.Accepted)
				assert.True(t, out.resp.Answer.IsCorrect)
				assert.Equal(t, 1000, out.resp.Answer.Points)
				assert.EqualValues(t, 2000, out.resp.Answer.TimeToAnswerMilli)
				assert.Equal(t, 1000, out.resp.TotalScore)

				p := out.session.Player("p1")
				assert.Equal(t, 1000, p.Score)
				assert.Len(t, p.Answers, 1)
			},
		},
		"timeout should be recorded as wrong with no points": {
			arrange: func() inputs {
				return inputs{
					status:  domain.StatusQuestion,
					request: score.SubmitAnswerRequest{SessionID: "s1", PlayerID: "p1", Token: "t1", SelectedOption: domain.NoAnswer},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				require.True(t, out.resp.Accepted)
				assert.False(t, out.resp.Answer.IsCorrect)
				assert.Zero(t, out.resp.Answer.Points)
				assert.Zero(t, out.session.Player("p1").Score)
			},
		},
		"timeout should still be recorded while the answer is revealed": {
			arrange: func() inputs {
				return inputs{
					status:  domain.StatusAnswerReveal,
					request: score.SubmitAnswerRequest{SessionID: "s1", PlayerID: "p1", Token: "t1", SelectedOption: domain.NoAnswer},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.True(t, out.resp.Accepted)
				assert.Len(t, out.session.Player("p1").Answers, 1)
			},
		},
		"real answer while the answer is revealed should be ignored": {
			arrange: func() inputs {
				return inputs{
					status:  domain.StatusAnswerReveal,
					request: score.SubmitAnswerRequest{SessionID: "s1", PlayerID: "p1", Token: "t1", SelectedOption: 2},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.False(t, out.resp.Accepted)
				assert.Empty(t, out.session.Player("p1").Answers)
				assert.EqualValues(t, 2, out.session.Version, "nothing should be written")
			},
		},
		"answer in the lobby should be ignored": {
			arrange: func() inputs {
				return inputs{
					status:  domain.StatusWaiting,
					request: score.SubmitAnswerRequest{SessionID: "s1", PlayerID: "p1", Token: "t1", SelectedOption: 2},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.False(t, out.resp.Accepted)
			},
		},
		"second answer to the same question should be rejected": {
			arrange: func() inputs {
				return inputs{
					status:   domain.StatusQuestion,
					answered: true,
					request:  score.SubmitAnswerRequest{SessionID: "s1", PlayerID: "p1", Token: "t1", SelectedOption: 2},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.ErrorIs(t, out.err, errors.ErrDuplicateAnswer)
				assert.Equal(t, 1000, out.session.Player("p1").Score, "score should not be counted twice")
				assert.Len(t, out.session.Player("p1").Answers, 1)
			},
		},
		"answer pinned to another question should be ignored": {
			arrange: func() inputs {
				return inputs{
					status:  domain.StatusQuestion,
					request: score.SubmitAnswerRequest{SessionID: "s1", PlayerID: "p1", Token: "t1", SelectedOption: 2, QuestionID: "old"},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.False(t, out.resp.Accepted)
			},
		},
		"option out of range should be rejected": {
			arrange: func() inputs {
				return inputs{
					status:  domain.StatusQuestion,
					request: score.SubmitAnswerRequest{SessionID: "s1", PlayerID: "p1", Token: "t1", SelectedOption: 4},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.ErrorIs(t, out.err, errors.New(errors.CodeInvalidArgument))
			},
		},
		"negative option other than no answer should be rejected": {
			arrange: func() inputs {
				return inputs{
					status:  domain.StatusQuestion,
					request: score.SubmitAnswerRequest{SessionID: "s1", PlayerID: "p1", Token: "t1", SelectedOption: -2},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.ErrorIs(t, out.err, errors.New(errors.CodeInvalidArgument))
			},
		},
		"another player's token should be denied": {
			arrange: func() inputs {
				return inputs{
					status:  domain.StatusQuestion,
					request: score.SubmitAnswerRequest{SessionID: "s1", PlayerID: "p1", Token: "t2", SelectedOption: 2},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.ErrorIs(t, out.err, errors.New(errors.CodePermissionDenied))
				assert.Empty(t, out.session.Player("p1").Answers)
			},
		},
		"missing token should be denied even when answers are closed": {
			arrange: func() inputs {
				return inputs{
					status:  domain.StatusAnswerReveal,
					request: score.SubmitAnswerRequest{SessionID: "s1", PlayerID: "p1", SelectedOption: domain.NoAnswer},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.ErrorIs(t, out.err, errors.New(errors.CodePermissionDenied))
				assert.Empty(t, out.session.Player("p1").Answers)
			},
		},
		"unknown player should not be found": {
			arrange: func() inputs {
				return inputs{
					status:  domain.StatusQuestion,
					request: score.SubmitAnswerRequest{SessionID: "s1", PlayerID: "ghost", SelectedOption: 2},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.ErrorIs(t, out.err, errors.New(errors.CodeNotFound))
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			in := tt.arrange()
			ctx := context.Background()

			st := makeStore(t)
			clock := clockwork.NewFakeClockAt(t0)

			ss := &domain.GameSession{
				SessionID:         "s1",
				RoomCode:          "ABC123",
				HostID:            "host",
				Status:            in.status,
				QuestionStartedAt: t0,
				Quiz:              domain.Quiz{QuizID: "quiz", Questions: []domain.Question{question}},
				Players: []domain.Player{
					{PlayerID: "p1", Nickname: "Alex", IsConnected: true, JoinedAt: t0, Answers: []domain.PlayerAnswer{}, Token: "t1"},
				},
				CreatedAt: t0,
			}
			if in.answered {
				ss.Players[0].Answers = append(ss.Players[0].Answers, score.Evaluate(question, 2, t0, t0))
				ss.Players[0].Score = 1000
			}
			require.NoError(t, st.Create(ctx, ss))
			// One committed change so versions are not at their initial value.
			_, err := st.Update(ctx, "s1", func(*domain.GameSession) error { return nil })
			require.NoError(t, err)

			s := score.NewService(score.Config{
				EventBus: event.NewBus(),
				Store:    st,
				Clock:    clock,
			})

			clock.Advance(in.submitted)

			var out outputs
			out.resp, out.err = s.SubmitAnswer(ctx, in.request)
			out.session, err = st.Get(ctx, "s1")
			require.NoError(t, err)

			tt.assert(t, out)
		})
	}
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
