package leaderboard_test

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/store"
)

func TestRank(t *testing.T) {
	pts := func(n int) *int { return &n }

	players := []domain.Player{
		{PlayerID: "p1", Nickname: "Alex", Score: 1000, Answers: []domain.PlayerAnswer{{QuestionID: "q1", Points: 1000}}},
		{PlayerID: "p2", Nickname: "Bo", Score: 2000, Answers: []domain.PlayerAnswer{{QuestionID: "q1", Points: 1000}, {QuestionID: "q2", Points: 1000}}},
		{PlayerID: "p3", Nickname: "Cy", Score: 1000, Answers: []domain.PlayerAnswer{{QuestionID: "q1", Points: 0}, {QuestionID: "q2", Points: 1000}}},
		{PlayerID: "p4", Nickname: "Di"},
	}

	want := []domain.LeaderboardEntry{
		{PlayerID: "p2", Nickname: "Bo", Score: 2000, Rank: 1, LastQuestionPoints: pts(1000)},
		{PlayerID: "p1", Nickname: "Alex", Score: 1000, Rank: 2, LastQuestionPoints: pts(1000)},
		{PlayerID: "p3", Nickname: "Cy", Score: 1000, Rank: 3, LastQuestionPoints: pts(1000)},
		{PlayerID: "p4", Nickname: "Di", Score: 0, Rank: 4},
	}

	assert.Equal(t, want, leaderboard.Rank(players))
	assert.Empty(t, leaderboard.Rank(nil))
}

func TestRank_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(1))

	for run := 0; run < 100; run++ {
		n := r.Intn(30)
		players := make([]domain.Player, n)
		for i := range players {
			players[i] = domain.Player{PlayerID: fmt.Sprintf("p%d", i), Score: r.Intn(5) * 500}
		}

		entries := leaderboard.Rank(players)
		require.Len(t, entries, n)

		order := make(map[string]int, n)
		for i, p := range players {
			order[p.PlayerID] = i
		}

		for i, e := range entries {
			assert.Equal(t, i+1, e.Rank, "ranks should be 1..N")
			if i == 0 {
				continue
			}

			prev := entries[i-1]
			assert.GreaterOrEqual(t, prev.Score, e.Score, "higher rank should never have a lower score")
			if prev.Score == e.Score {
				assert.Less(t, order[prev.PlayerID], order[e.PlayerID], "ties should keep roster order")
			}
		}
	}
}

func TestService_GetLeaderboard(t *testing.T) {
	s, st := makeService(t)
	ctx := context.Background()

	ss := makeSession("s1", domain.StatusQuestion)
	require.NoError(t, st.Create(ctx, ss))

	resp, err := s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{
		SessionID: "s1",
	})
	require.NoError(t, err)

	assert.Equal(t, "s1", resp.SessionID)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "p2", resp.Entries[0].PlayerID)
	assert.Equal(t, 1, resp.Entries[0].Rank)
}

func TestServer_PublishLeaderboardUpdated(t *testing.T) {
	type (
		inputs struct {
			receivedEvents []domain.EventSessionUpdated
		}

		outputs struct {
			publishedEvents []domain.EventLeaderboardUpdated
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should publish correct event leaderboard.updated after receiving session.updated": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventSessionUpdated{
						{Session: *atVersion(makeSession("s1", domain.StatusQuestion), 1)},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
				e := out.publishedEvents[0]
				assert.Equal(t, "s1", e.Leaderboard.SessionID)
				assert.Equal(t, []string{"p1", "p2"}, e.Recipients)
				require.Len(t, e.Leaderboard.Entries, 2)
				assert.Equal(t, "p2", e.Leaderboard.Entries[0].PlayerID)
			},
		},

		"should publish 2 events leaderboard.updated for 2 different sessions": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventSessionUpdated{
						{Session: *atVersion(makeSession("s1", domain.StatusQuestion), 1)},
						{Session: *atVersion(makeSession("s2", domain.StatusQuestion), 1)},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 2, "should receive 2 leaderboard updated event")
			},
		},

		"should publish 1 event leaderboard.updated for the same session within the publish interval": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventSessionUpdated{
						{Session: *atVersion(makeSession("s1", domain.StatusQuestion), 1)},
						{Session: *atVersion(makeSession("s1", domain.StatusQuestion), 2)},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
			},
		},

		"should always publish when the leaderboard is shown": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventSessionUpdated{
						{Session: *atVersion(makeSession("s1", domain.StatusQuestion), 1)},
						{Session: *atVersion(makeSession("s1", domain.StatusAnswerReveal), 2)},
						{Session: *atVersion(makeSession("s1", domain.StatusLeaderboard), 3)},
						{Session: *atVersion(makeSession("s1", domain.StatusFinished), 4)},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 3, "the reveal is throttled, leaderboard and finish are not")
			},
		},

		"should skip an update older than one already handled": {
			arrange: func() inputs {
				late := atVersion(makeSession("s1", domain.StatusLeaderboard), 3)
				late.Players[0].Score = 9000

				return inputs{
					receivedEvents: []domain.EventSessionUpdated{
						{Session: *atVersion(makeSession("s1", domain.StatusLeaderboard), 5)},
						{Session: *late},
						{Session: *atVersion(makeSession("s1", domain.StatusLeaderboard), 5)},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "stale and repeated versions should not be published")
				assert.Equal(t, "p2", out.publishedEvents[0].Leaderboard.Entries[0].PlayerID)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in, out := tt.arrange(), outputs{}

			eb := event.NewBus()

			var mu sync.Mutex
			eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
				mu.Lock()
				out.publishedEvents = append(out.publishedEvents, e.(domain.EventLeaderboardUpdated))
				mu.Unlock()
				return nil
			})

			s, _ := makeService(t,
				withEventBus(eb),
				withPublishInterval(time.Hour),
			)

			for _, e := range in.receivedEvents {
				err := s.UpdateLeaderboard(context.Background(), e)
				require.NoError(t, err)
			}

			eb.Stop()

			tt.assert(t, out)
		})
	}
}

func makeSession(id string, status domain.Status) *domain.GameSession {
	return &domain.GameSession{
		SessionID: id,
		RoomCode:  "ABC123",
		HostID:    "host",
		Status:    status,
		Quiz: domain.Quiz{
			QuizID:    "quiz",
			Questions: []domain.Question{{QuestionID: "q1", Text: "?", Options: []string{"a", "b"}, TimeLimitSeconds: 10, Points: 500}},
		},
		Players: []domain.Player{
			{PlayerID: "p1", Nickname: "Alex", Score: 0, Answers: []domain.PlayerAnswer{{QuestionID: "q1", SelectedOption: 0}}},
			{PlayerID: "p2", Nickname: "Bo", Score: 500, Answers: []domain.PlayerAnswer{{QuestionID: "q1", SelectedOption: 1, IsCorrect: true, Points: 500}}},
		},
	}
}

func atVersion(ss *domain.GameSession, v int64) *domain.GameSession {
	ss.Version = v
	return ss
}

func makeService(t *testing.T, opts ...options) (*leaderboard.Service, *store.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	st := store.New(store.Config{Redis: rc, Prefix: "test"})

	c := leaderboard.Config{
		EventBus: event.NewBus(),
		Store:    st,
		Redis:    rc,
		Prefix:   "test",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return leaderboard.NewService(c), st
}

type options func(c *leaderboard.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *leaderboard.Config) {
		c.EventBus = eb
	}
}

func withPublishInterval(d time.Duration) options {
	return func(c *leaderboard.Config) {
		c.PublishInterval = d
	}
}
