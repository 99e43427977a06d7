// Package store keeps game sessions in Redis and pushes a snapshot of every committed change.
//
// A session is split into a header document and a roster hash keyed by player id, so concurrent
// roster changes only ever rewrite the entries they touch. Mutations go through Update, which
// re-reads, applies and writes under WATCH and publishes the new snapshot in the same transaction.
package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

const defaultMaxRetries = 16

// ErrNoChange can be returned by an update function to skip the write.
var ErrNoChange = stderrors.New("store: no change")

type Config struct {
	Redis  redis.UniversalClient
	Prefix string
	// FinishedTTL, when positive, expires finished sessions.
	FinishedTTL time.Duration
	MaxRetries  int
}

type Store struct {
	redis       redis.UniversalClient
	prefix      string
	finishedTTL time.Duration
	maxRetries  int
}

func New(c Config) *Store {
	s := &Store{
		redis:       c.Redis,
		prefix:      c.Prefix,
		finishedTTL: c.FinishedTTL,
		maxRetries:  c.MaxRetries,
	}

	if s.maxRetries <= 0 {
		s.maxRetries = defaultMaxRetries
	}

	return s
}

// Create stores a new session and claims its room code. It fails with errors.ErrRoomCodeTaken
// when the code already indexes another session.
func (s *Store) Create(ctx context.Context, ss *domain.GameSession) error {
	ok, err := s.redis.SetNX(ctx, s.roomKey(ss.RoomCode), ss.SessionID, 0).Result()
	if err != nil {
		return fmt.Errorf("claim room code: %w", err)
	}

	if !ok {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithReason(errors.ReasonRoomCodeTaken),
			errors.WithMessagef("room code %s is in use", ss.RoomCode))
	}

	ss.Version = 1

	var nextSeq int64
	fields := make([]any, 0, 2*len(ss.Players))
	for _, p := range ss.Players {
		nextSeq++
		b, err := json.Marshal(toPlayerDoc(p, nextSeq))
		if err != nil {
			return fmt.Errorf("marshal player: %w", err)
		}
		fields = append(fields, p.PlayerID, b)
	}

	header, err := json.Marshal(toSessionDoc(ss, nextSeq))
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(ss.SessionID), header, 0)
		if len(fields) > 0 {
			pipe.HSet(ctx, s.playersKey(ss.SessionID), fields...)
		}
		pipe.SAdd(ctx, s.hostKey(ss.HostID), ss.SessionID)
		return nil
	})
	if err != nil {
		s.discard(context.WithoutCancel(ctx), ss)
		return fmt.Errorf("create session: %w", err)
	}

	return nil
}

// discard removes whatever a failed Create left behind. EXEC does not roll back the commands
// that succeeded.
func (s *Store) discard(ctx context.Context, ss *domain.GameSession) {
	_, err := s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.sessionKey(ss.SessionID), s.playersKey(ss.SessionID), s.roomKey(ss.RoomCode))
		pipe.SRem(ctx, s.hostKey(ss.HostID), ss.SessionID)
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "store: discard failed session", "session_id", ss.SessionID, "room_code", ss.RoomCode, "error", err)
	}
}

// Get reads a session by id.
func (s *Store) Get(ctx context.Context, id string) (*domain.GameSession, error) {
	l, err := s.load(ctx, s.redis, id)
	if err != nil {
		return nil, err
	}

	return l.session(), nil
}

// FindByRoomCode resolves a normalized room code. When statuses are given the session must be in
// one of them.
func (s *Store) FindByRoomCode(ctx context.Context, code string, statuses ...domain.Status) (*domain.GameSession, error) {
	id, err := s.redis.Get(ctx, s.roomKey(code)).Result()
	if stderrors.Is(err, redis.Nil) {
		return nil, errRoomNotFound(code)
	}
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", code, err)
	}

	ss, err := s.Get(ctx, id)
	if stderrors.Is(err, errors.New(errors.CodeNotFound)) {
		return nil, errRoomNotFound(code)
	}
	if err != nil {
		return nil, err
	}

	if len(statuses) > 0 && !slices.Contains(statuses, ss.Status) {
		return nil, errRoomNotFound(code)
	}

	return ss, nil
}

// ListByHost returns the host's sessions, newest first. Expired sessions are dropped from the index.
func (s *Store) ListByHost(ctx context.Context, hostID string) ([]*domain.GameSession, error) {
	ids, err := s.redis.SMembers(ctx, s.hostKey(hostID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions of %s: %w", hostID, err)
	}

	out := make([]*domain.GameSession, 0, len(ids))
	for _, id := range ids {
		ss, err := s.Get(ctx, id)
		if stderrors.Is(err, errors.New(errors.CodeNotFound)) {
			s.redis.SRem(ctx, s.hostKey(hostID), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ss)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Update applies fn to the latest session and commits the result with a new version. fn may be
// called several times when other writers race; it must only depend on its argument. Returning
// ErrNoChange leaves the session as it is and Update returns the unchanged session.
func (s *Store) Update(ctx context.Context, id string, fn func(*domain.GameSession) error) (*domain.GameSession, error) {
	keys := []string{s.sessionKey(id), s.playersKey(id)}

	for i := 0; i < s.maxRetries; i++ {
		var out *domain.GameSession

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			l, err := s.load(ctx, tx, id)
			if err != nil {
				return err
			}

			cur := l.session()
			next := cur.Clone()
			if err := fn(next); err != nil {
				if stderrors.Is(err, ErrNoChange) {
					out = cur
					return nil
				}
				return err
			}

			next.SessionID, next.Version = cur.SessionID, cur.Version+1
			w, err := l.diff(next)
			if err != nil {
				return err
			}

			msg, err := json.Marshal(snapshot{Version: next.Version, Session: &w.snapshot})
			if err != nil {
				return fmt.Errorf("marshal snapshot: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, s.sessionKey(id), w.header, 0)
				if len(w.set) > 0 {
					pipe.HSet(ctx, s.playersKey(id), w.set...)
				}
				if len(w.del) > 0 {
					pipe.HDel(ctx, s.playersKey(id), w.del...)
				}
				if next.Status == domain.StatusFinished && s.finishedTTL > 0 {
					pipe.Expire(ctx, s.sessionKey(id), s.finishedTTL)
					pipe.Expire(ctx, s.playersKey(id), s.finishedTTL)
				}
				pipe.Publish(ctx, s.channel(id), msg)
				return nil
			})
			if err != nil {
				return err
			}

			out = next
			return nil
		}, keys...)

		if stderrors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}

		if out.Status == domain.StatusFinished && s.finishedTTL > 0 {
			// The room index lives in another slot, so it expires outside the transaction.
			if err := s.redis.Expire(ctx, s.roomKey(out.RoomCode), s.finishedTTL).Err(); err != nil {
				slog.ErrorContext(ctx, "store: expire room code failed", "session_id", id, "error", err)
			}
		}

		return out, nil
	}

	return nil, errors.New(errors.CodeAborted,
		errors.WithMessagef("session %s is changing too fast, try again", id))
}

// Delete removes the session and its indexes and pushes a tombstone to subscribers.
func (s *Store) Delete(ctx context.Context, id string) error {
	l, err := s.load(ctx, s.redis, id)
	if err != nil {
		return err
	}

	msg, err := json.Marshal(snapshot{Version: l.header.Version + 1, Deleted: true})
	if err != nil {
		return fmt.Errorf("marshal tombstone: %w", err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.sessionKey(id), s.playersKey(id))
		pipe.Publish(ctx, s.channel(id), msg)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}

	// Only release the room code if it still points at this session.
	room := s.roomKey(l.header.RoomCode)
	if cur, err := s.redis.Get(ctx, room).Result(); err == nil && cur == id {
		s.redis.Del(ctx, room)
	}

	return s.redis.SRem(ctx, s.hostKey(l.header.HostID), id).Err()
}

type loaded struct {
	header  sessionDoc
	players map[string]playerDoc
	raw     map[string]string
}

func (s *Store) load(ctx context.Context, c redis.Cmdable, id string) (*loaded, error) {
	b, err := c.Get(ctx, s.sessionKey(id)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("game session %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}

	l := &loaded{}
	if err := json.Unmarshal(b, &l.header); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}

	l.raw, err = c.HGetAll(ctx, s.playersKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get players of %s: %w", id, err)
	}

	l.players = make(map[string]playerDoc, len(l.raw))
	for pid, v := range l.raw {
		var p playerDoc
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			return nil, fmt.Errorf("unmarshal player %s: %w", pid, err)
		}
		l.players[pid] = p
	}

	return l, nil
}

func (l *loaded) session() *domain.GameSession {
	players := make([]playerDoc, 0, len(l.players))
	for _, p := range l.players {
		players = append(players, p)
	}
	return l.header.toDomain(players)
}

type write struct {
	header   []byte
	set      []any
	del      []string
	snapshot sessionDoc
}

// diff computes the roster fields that changed between the loaded documents and next.
func (l *loaded) diff(next *domain.GameSession) (*write, error) {
	w := &write{}
	nextSeq := l.header.NextSeq
	keep := make(map[string]struct{}, len(next.Players))
	players := make([]playerDoc, 0, len(next.Players))

	for _, p := range next.Players {
		keep[p.PlayerID] = struct{}{}

		seq := l.players[p.PlayerID].Seq
		if _, ok := l.players[p.PlayerID]; !ok {
			nextSeq++
			seq = nextSeq
		}

		d := toPlayerDoc(p, seq)
		b, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("marshal player: %w", err)
		}

		if l.raw[p.PlayerID] != string(b) {
			w.set = append(w.set, p.PlayerID, b)
		}

		d.Token = ""
		players = append(players, d)
	}

	for pid := range l.players {
		if _, ok := keep[pid]; !ok {
			w.del = append(w.del, pid)
		}
	}

	h := toSessionDoc(next, nextSeq)
	b, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}

	w.header = b
	w.snapshot = h
	w.snapshot.Players = players
	return w, nil
}

func errRoomNotFound(code string) error {
	return errors.New(errors.CodeNotFound,
		errors.WithMessagef("game %s not found, please check the room code", code))
}

// Keys of one session share the {id} hash tag so they live in one cluster slot.

func (s *Store) sessionKey(id string) string {
	return fmt.Sprintf("%s:session:{%s}", s.prefix, id)
}

func (s *Store) playersKey(id string) string {
	return s.sessionKey(id) + ":players"
}

func (s *Store) channel(id string) string {
	return s.sessionKey(id) + ":snapshots"
}

func (s *Store) roomKey(code string) string {
	return fmt.Sprintf("%s:room:%s", s.prefix, code)
}

func (s *Store) hostKey(hostID string) string {
	return fmt.Sprintf("%s:host:%s:sessions", s.prefix, hostID)
}
