package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/store"
)

const (
	defaultPublishInterval = 200 * time.Millisecond

	// versionTTL bounds how long the newest handled version of a session is remembered.
	versionTTL  = 24 * time.Hour
	maxAdvances = 5
)

type Config struct {
	EventBus *event.Bus
	Store    *store.Store
	Redis    redis.UniversalClient
	Prefix   string
	// PublishInterval is the minimum gap between two leaderboard.updated events of a session
	// while a question is running.
	PublishInterval time.Duration
}

type Service struct {
	eb       *event.Bus
	store    *store.Store
	redis    redis.UniversalClient
	prefix   string
	interval time.Duration
}

func NewService(c Config) *Service {
	s := &Service{
		eb:       c.EventBus,
		store:    c.Store,
		redis:    c.Redis,
		prefix:   c.Prefix,
		interval: c.PublishInterval,
	}

	if s.interval <= 0 {
		s.interval = defaultPublishInterval
	}

	s.eb.Subscribe(domain.EventNameSessionUpdated, func(ctx context.Context, e event.Event) error {
		return s.UpdateLeaderboard(ctx, e.(domain.EventSessionUpdated))
	})

	return s
}

type GetLeaderboardRequest struct {
	SessionID string
}

// GetLeaderboard returns the leaderboard for a session, ranked from its current roster.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	ss, err := s.store.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	l := Of(ss)
	return &l, nil
}

// UpdateLeaderboard publishes the leaderboard of an updated session. Answers arrive in bursts
// while a question runs, so those updates are throttled; showing the leaderboard or finishing the
// game always publishes.
// Events can be published out of commit order by concurrent writers; one older than an event
// already handled is dropped.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventSessionUpdated) error {
	ss := e.Session

	fresh, err := s.advance(ctx, &ss)
	if err != nil {
		return err
	}

	if !fresh {
		return nil
	}

	switch ss.Status {
	case domain.StatusLeaderboard, domain.StatusFinished:
		return s.publishLeaderboard(ctx, &ss)
	}

	return s.schedulePublishLeaderboard(ctx, &ss)
}

// schedulePublishLeaderboard publishes at most once per interval per session.
func (s *Service) schedulePublishLeaderboard(ctx context.Context, ss *domain.GameSession) error {
	// The key is shared by all instances; whichever sets it first publishes for this interval.
	ok, err := s.redis.SetNX(ctx, s.getLeaderboardTimeKey(ss.SessionID), ss.Version, s.interval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishLeaderboard(ctx, ss)
}

func (s *Service) publishLeaderboard(ctx context.Context, ss *domain.GameSession) error {
	recipients := make([]string, 0, len(ss.Players))
	for _, p := range ss.Players {
		recipients = append(recipients, p.PlayerID)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: Of(ss),
		Recipients:  recipients,
	})

	return s.redis.Set(ctx, s.getLeaderboardTimeKey(ss.SessionID), ss.Version, s.interval).Err()
}

// advance records the session's version as the newest handled one. It reports false when a newer
// or equal version was handled already.
func (s *Service) advance(ctx context.Context, ss *domain.GameSession) (bool, error) {
	key := s.getLeaderboardVersionKey(ss.SessionID)

	for range maxAdvances {
		fresh := false
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			seen, err := tx.Get(ctx, key).Int64()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			if ss.Version <= seen {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, ss.Version, versionTTL)
				return nil
			})
			fresh = err == nil
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("advance version: %w", err)
		}

		return fresh, nil
	}

	// Lost every race: other events of this session are being handled right now.
	return false, nil
}

func (s *Service) getLeaderboardTimeKey(session string) string {
	return fmt.Sprintf("%s:%s:time", s.prefix, session)
}

func (s *Service) getLeaderboardVersionKey(session string) string {
	return fmt.Sprintf("%s:%s:version", s.prefix, session)
}
