// Package participant runs one player's side of a live game: it keeps a local view in sync
// with pushed snapshots, submits answers optimistically and answers on the player's behalf when
// a question times out.
package participant

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/roster"
	"github.com/victornm/livequiz/internal/score"
)

// Stream yields full session snapshots in commit order.
type Stream interface {
	Recv() (*domain.GameSession, error)
	Close() error
}

// Backend is the remote side of a game.
type Backend interface {
	Watch(ctx context.Context, sessionID, playerID, token string) (Stream, error)
	SubmitAnswer(ctx context.Context, req score.SubmitAnswerRequest) (*score.SubmitAnswerResponse, error)
	Leave(ctx context.Context, req roster.LeaveRequest) error
}

type Config struct {
	Backend   Backend
	Clock     clockwork.Clock
	SessionID string
	PlayerID  string
	// Token is the secret returned by Join.
	Token string
	// OnScreen is called with the new screen after every snapshot that changed the view.
	OnScreen func(Screen)
}

type Participant struct {
	backend   Backend
	clock     clockwork.Clock
	sessionID string
	playerID  string
	token     string
	onScreen  func(Screen)

	view View

	mu     sync.Mutex
	ctx    context.Context
	stream Stream
	left   bool
	// answered holds questions this participant already sent an answer for.
	answered map[string]struct{}
	timer    clockwork.Timer
	timerQID string
}

func New(c Config) *Participant {
	p := &Participant{
		backend:   c.Backend,
		clock:     c.Clock,
		sessionID: c.SessionID,
		playerID:  c.PlayerID,
		token:     c.Token,
		onScreen:  c.OnScreen,
		ctx:       context.Background(),
		answered:  make(map[string]struct{}),
	}

	if p.clock == nil {
		p.clock = clockwork.NewRealClock()
	}

	return p
}

// View returns the participant's local copy of the session.
func (p *Participant) View() *domain.GameSession {
	return p.view.Session()
}

// Run follows the session until it finishes, the player leaves or the stream fails. It returns
// nil when the game finished or the player left, errors.ErrRemoved when the host kicked the
// player, errors.ErrSessionDeleted when the game was deleted and errors.ErrConnectionLost when
// the stream broke.
func (p *Participant) Run(ctx context.Context) error {
	stream, err := p.backend.Watch(ctx, p.sessionID, p.playerID, p.token)
	if err != nil {
		return connectionErr(err)
	}

	p.mu.Lock()
	if p.left {
		p.mu.Unlock()
		_ = stream.Close()
		return nil
	}
	p.ctx = ctx
	p.stream = stream
	p.mu.Unlock()

	defer p.stop()

	for {
		ss, err := stream.Recv()
		if err != nil {
			if p.hasLeft() {
				return nil
			}
			return connectionErr(err)
		}

		if p.hasLeft() {
			return nil
		}

		ch := p.view.Apply(ss)

		if ss.Player(p.playerID) == nil {
			return errors.New(errors.CodeNotFound,
				errors.WithReason(errors.ReasonRemoved),
				errors.WithMessagef("you have been removed from the game"))
		}

		if !ch.Changed {
			continue
		}

		p.reconcileTimer(ss)

		if p.onScreen != nil {
			p.onScreen(Render(ss, p.playerID))
		}

		if ss.Status.Terminal() {
			return nil
		}
	}
}

// SubmitAnswer answers the current question. The answer shows up in the local view at once and
// is confirmed by the next snapshot. It does nothing when no question is open.
func (p *Participant) SubmitAnswer(ctx context.Context, option int) error {
	p.mu.Lock()

	if p.left {
		p.mu.Unlock()
		return errNotParticipating()
	}

	ss := p.view.Session()
	if ss == nil || !ss.Status.AcceptsAnswer(option) {
		p.mu.Unlock()
		return nil
	}

	q, ok := ss.CurrentQuestion()
	if !ok {
		p.mu.Unlock()
		return nil
	}

	if option < domain.NoAnswer || option >= len(q.Options) {
		p.mu.Unlock()
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("option %d does not exist", option))
	}

	if p.hasAnsweredLocked(ss, q.QuestionID) {
		p.mu.Unlock()
		return errors.New(errors.CodeAlreadyExists,
			errors.WithReason(errors.ReasonDuplicateAnswer),
			errors.WithMessagef("you already answered this question"))
	}

	p.answered[q.QuestionID] = struct{}{}
	p.cancelTimerLocked()

	now := p.clock.Now()
	p.view.edit(func(ss *domain.GameSession) {
		me := ss.Player(p.playerID)
		if me == nil {
			return
		}
		a := score.Evaluate(q, option, ss.QuestionStartedAt, now)
		me.Answers = append(me.Answers, a)
		me.Score += a.Points
	})
	p.mu.Unlock()

	resp, err := p.backend.SubmitAnswer(ctx, score.SubmitAnswerRequest{
		SessionID:      p.sessionID,
		PlayerID:       p.playerID,
		Token:          p.token,
		SelectedOption: option,
		QuestionID:     q.QuestionID,
	})
	switch {
	case err != nil && !stderrors.Is(err, errors.ErrDuplicateAnswer):
		// Let the player try again; the next snapshot replaces the optimistic answer.
		p.forget(q.QuestionID)
	case err == nil && !resp.Accepted:
		// The question closed before the answer landed, so it still needs a no-answer.
		p.forget(q.QuestionID)
		p.mu.Lock()
		closed := p.closedLocked(q.QuestionID)
		p.mu.Unlock()
		if closed {
			p.autoSubmit(q.QuestionID)
		}
	}

	return err
}

func (p *Participant) forget(questionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.answered, questionID)
}

// closedLocked reports whether the view already shows the question's answer. The reveal snapshot
// has then been handled and will not schedule the no-answer itself.
func (p *Participant) closedLocked(questionID string) bool {
	ss := p.view.Session()
	if ss == nil || ss.Status != domain.StatusAnswerReveal {
		return false
	}
	q, ok := ss.CurrentQuestion()
	return ok && q.QuestionID == questionID
}

// Leave stops following the session and tells the server the player is gone. Later calls to
// SubmitAnswer fail with errors.ErrNotParticipating.
func (p *Participant) Leave(ctx context.Context) error {
	p.mu.Lock()
	if p.left {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	p.stop()

	return p.backend.Leave(ctx, roster.LeaveRequest{
		SessionID: p.sessionID,
		PlayerID:  p.playerID,
		Token:     p.token,
	})
}

// reconcileTimer keeps exactly one auto-submit scheduled for the open question the player has
// not answered yet.
func (p *Participant) reconcileTimer(ss *domain.GameSession) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.left {
		return
	}

	q, ok := ss.CurrentQuestion()

	switch {
	case ss.Status == domain.StatusQuestion && ok:
		if p.hasAnsweredLocked(ss, q.QuestionID) {
			p.cancelTimerLocked()
			return
		}

		if p.timer != nil && p.timerQID == q.QuestionID {
			return
		}

		p.cancelTimerLocked()

		d := ss.QuestionStartedAt.Add(q.TimeLimit()).Sub(p.clock.Now())
		if d < 0 {
			d = 0
		}

		qid := q.QuestionID
		p.timerQID = qid
		p.timer = p.clock.AfterFunc(d, func() { p.autoSubmit(qid) })

	case ss.Status == domain.StatusAnswerReveal && ok:
		p.cancelTimerLocked()

		// The question closed before the deadline fired.
		if !p.hasAnsweredLocked(ss, q.QuestionID) {
			qid := q.QuestionID
			go p.autoSubmit(qid)
		}

	default:
		p.cancelTimerLocked()
	}
}

// autoSubmit records a no-answer for the question unless the player answered it meanwhile.
func (p *Participant) autoSubmit(questionID string) {
	p.mu.Lock()
	if p.left {
		p.mu.Unlock()
		return
	}
	if _, ok := p.answered[questionID]; ok {
		p.mu.Unlock()
		return
	}
	p.answered[questionID] = struct{}{}
	if p.timerQID == questionID {
		p.timer, p.timerQID = nil, ""
	}
	ctx := p.ctx
	p.mu.Unlock()

	_, err := p.backend.SubmitAnswer(ctx, score.SubmitAnswerRequest{
		SessionID:      p.sessionID,
		PlayerID:       p.playerID,
		Token:          p.token,
		SelectedOption: domain.NoAnswer,
		QuestionID:     questionID,
	})
	if err != nil && !stderrors.Is(err, errors.ErrDuplicateAnswer) {
		slog.ErrorContext(ctx, "participant: auto-submit failed",
			"session_id", p.sessionID,
			"player_id", p.playerID,
			"question_id", questionID,
			"error", err,
		)
	}
}

func (p *Participant) hasAnsweredLocked(ss *domain.GameSession, questionID string) bool {
	if _, ok := p.answered[questionID]; ok {
		return true
	}

	me := ss.Player(p.playerID)
	if me == nil {
		return false
	}

	_, ok := me.Answer(questionID)
	return ok
}

func (p *Participant) cancelTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer, p.timerQID = nil, ""
}

func (p *Participant) hasLeft() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.left
}

// stop ends participation: no timer fires and no snapshot is applied afterwards.
func (p *Participant) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.left {
		return
	}

	p.left = true
	p.cancelTimerLocked()

	if p.stream != nil {
		if err := p.stream.Close(); err != nil {
			slog.ErrorContext(p.ctx, "participant: close stream failed", "error", err)
		}
	}
}

func connectionErr(err error) error {
	switch {
	case stderrors.Is(err, errors.ErrSessionDeleted),
		stderrors.Is(err, errors.ErrRemoved),
		stderrors.Is(err, errors.ErrConnectionLost),
		stderrors.Is(err, errors.New(errors.CodeNotFound)),
		stderrors.Is(err, errors.New(errors.CodePermissionDenied)):
		return err
	case stderrors.Is(err, context.Canceled):
		return err
	}

	return errors.New(errors.CodeUnavailable,
		errors.WithReason(errors.ReasonConnectionLost),
		errors.WithMessagef("connection to the game was lost"),
		errors.WithCause(err))
}

func errNotParticipating() error {
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithReason(errors.ReasonNotParticipating),
		errors.WithMessagef("you are no longer in this game"))
}
