package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	Removal struct {
		SessionID string `json:"session_id"`
		Reason    string `json:"reason"`
		Message   string `json:"message"`
	}
)

// PublishLeaderboardUpdated sends the leaderboard to every player of the session.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	data := toLeaderboard(e.Leaderboard)

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, player := range e.Recipients {
		eg.Go(func() error {
			return a.publishNotification(ctx, player, e.Name(), data)
		})
	}

	return eg.Wait()
}

// PublishPlayerKicked tells a removed player why their stream ended.
func (a *API) PublishPlayerKicked(ctx context.Context, e domain.EventPlayerKicked) error {
	return a.publishNotification(ctx, e.PlayerID, e.Name(), Removal{
		SessionID: e.SessionID,
		Reason:    string(errors.ReasonRemoved),
		Message:   fmt.Sprintf("%s, you have been removed from the game", e.Nickname),
	})
}

func (a *API) publishNotification(ctx context.Context, user, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, UserChannel(a.prefix, user), b).Err()
}

// UserChannel is the pubsub channel a player listens on for notifications.
func UserChannel(prefix, user string) string {
	return fmt.Sprintf("%s:user:%s", prefix, user)
}
