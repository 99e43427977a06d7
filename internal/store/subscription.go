package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

// Subscription is a stream of full session snapshots in commit order. The first snapshot is the
// state at subscribe time; each later one has a higher version. Snapshots already seen are skipped
// and a missed version is healed by re-reading the session. Player tokens are never included.
type Subscription struct {
	store *Store
	id    string

	ps   *redis.PubSub
	msgs <-chan *redis.Message

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending *domain.GameSession
	version int64
	closed  bool
}

// Subscribe starts listening to a session. The subscription stays open until Close or until ctx
// is done.
func (s *Store) Subscribe(ctx context.Context, id string) (*Subscription, error) {
	ps := s.redis.Subscribe(ctx, s.channel(id))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.New(errors.CodeUnavailable,
			errors.WithReason(errors.ReasonConnectionLost),
			errors.WithMessagef("subscribe to session %s", id),
			errors.WithCause(err))
	}

	// Read after the subscription is confirmed so no commit falls between the two.
	initial, err := s.Get(ctx, id)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Subscription{
		store:   s,
		id:      id,
		ps:      ps,
		msgs:    ps.Channel(),
		ctx:     ctx,
		cancel:  cancel,
		pending: initial.WithoutTokens(),
		version: initial.Version,
	}, nil
}

// Recv blocks until the next snapshot. It returns errors.ErrSessionDeleted once the session is
// deleted, errors.ErrConnectionLost when the stream breaks and io.EOF after Close.
func (sub *Subscription) Recv() (*domain.GameSession, error) {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return nil, io.EOF
	}
	if p := sub.pending; p != nil {
		sub.pending = nil
		sub.mu.Unlock()
		return p, nil
	}
	sub.mu.Unlock()

	for {
		select {
		case <-sub.ctx.Done():
			if sub.isClosed() {
				return nil, io.EOF
			}
			return nil, sub.ctx.Err()

		case m, ok := <-sub.msgs:
			if !ok {
				if sub.isClosed() {
					return nil, io.EOF
				}
				return nil, errors.New(errors.CodeUnavailable,
					errors.WithReason(errors.ReasonConnectionLost),
					errors.WithMessagef("lost connection to session %s", sub.id))
			}

			ss, err := sub.handle(m)
			if err != nil {
				return nil, err
			}
			if ss != nil {
				return ss, nil
			}
		}
	}
}

func (sub *Subscription) handle(m *redis.Message) (*domain.GameSession, error) {
	var msg snapshot
	if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot of %s: %w", sub.id, err)
	}

	if msg.Deleted {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithReason(errors.ReasonSessionDeleted),
			errors.WithMessagef("game session %s no longer exists", sub.id))
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()

	if msg.Version <= sub.version || msg.Session == nil {
		return nil, nil
	}

	ss := msg.Session.toDomain(msg.Session.Players)
	if msg.Version > sub.version+1 {
		cur, err := sub.store.Get(sub.ctx, sub.id)
		if err != nil {
			return nil, err
		}
		if cur.Version > ss.Version {
			ss = cur.WithoutTokens()
		}
	}

	sub.version = ss.Version
	return ss, nil
}

func (sub *Subscription) isClosed() bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.closed
}

// Close stops the subscription. Recv returns io.EOF afterwards.
func (sub *Subscription) Close() error {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return nil
	}
	sub.closed = true
	sub.mu.Unlock()

	sub.cancel()
	return sub.ps.Close()
}
