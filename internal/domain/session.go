package domain

import (
	"crypto/subtle"
	"slices"
	"strings"
	"time"

	"github.com/victornm/livequiz/internal/errors"
)

// NoAnswer is the selected option recorded when a player did not answer in time.
const NoAnswer = -1

// Status is the phase a game session is in.
type Status string

const (
	StatusWaiting      Status = "waiting"
	StatusQuestion     Status = "question"
	StatusAnswerReveal Status = "answer_reveal"
	StatusLeaderboard  Status = "leaderboard"
	StatusFinished     Status = "finished"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusWaiting, StatusQuestion, StatusAnswerReveal, StatusLeaderboard, StatusFinished}

func (s Status) Valid() bool {
	for _, ss := range Statuses {
		if s == ss {
			return true
		}
	}
	return false
}

// GameSession is one running instance of a quiz.
type GameSession struct {
	SessionID            string
	RoomCode             string
	Quiz                 Quiz
	HostID               string
	Status               Status
	CurrentQuestionIndex int
	// QuestionStartedAt is zero when no question has been started.
	QuestionStartedAt time.Time
	// Players are kept in join order.
	Players   []Player
	CreatedAt time.Time
	// Version is assigned by the store and grows by one with every committed mutation.
	Version int64
}

type Player struct {
	PlayerID    string
	Nickname    string
	Score       int
	Answers     []PlayerAnswer
	IsConnected bool
	JoinedAt    time.Time
	// Token is the secret handed to the player on join. It authorizes the player's own actions
	// and is never sent to clients.
	Token string
}

type PlayerAnswer struct {
	QuestionID        string
	SelectedOption    int
	IsCorrect         bool
	TimeToAnswerMilli int64
	Points            int
}

// CurrentQuestion returns the question at CurrentQuestionIndex, if any.
func (s *GameSession) CurrentQuestion() (Question, bool) {
	if s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex >= len(s.Quiz.Questions) {
		return Question{}, false
	}
	return s.Quiz.Questions[s.CurrentQuestionIndex], true
}

// Player returns a pointer into the roster for the given player, or nil.
func (s *GameSession) Player(id string) *Player {
	for i := range s.Players {
		if s.Players[i].PlayerID == id {
			return &s.Players[i]
		}
	}
	return nil
}

// PlayerByNickname finds a player by nickname, ignoring case.
func (s *GameSession) PlayerByNickname(nickname string) *Player {
	for i := range s.Players {
		if strings.EqualFold(s.Players[i].Nickname, nickname) {
			return &s.Players[i]
		}
	}
	return nil
}

// RemovePlayer drops a player from the roster and reports whether it was present.
func (s *GameSession) RemovePlayer(id string) bool {
	for i := range s.Players {
		if s.Players[i].PlayerID == id {
			s.Players = append(s.Players[:i], s.Players[i+1:]...)
			return true
		}
	}
	return false
}

// IsHost reports whether userID owns the session.
func (s *GameSession) IsHost(userID string) bool {
	return userID != "" && s.HostID == userID
}

// Authorize returns the player the token was issued to. A missing player fails with
// errors.ErrRemoved, a wrong token with PermissionDenied.
func (s *GameSession) Authorize(playerID, token string) (*Player, error) {
	p := s.Player(playerID)
	if p == nil {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithReason(errors.ReasonRemoved),
			errors.WithMessagef("player %s is not in game %s", playerID, s.SessionID))
	}

	if !p.HasToken(token) {
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("not allowed to act as player %s", playerID))
	}

	return p, nil
}

// HasToken reports whether token is the player's secret.
func (p *Player) HasToken(token string) bool {
	return p.Token != "" && subtle.ConstantTimeCompare([]byte(p.Token), []byte(token)) == 1
}

// WithoutTokens clears every player's secret, for copies that leave the server.
func (s *GameSession) WithoutTokens() *GameSession {
	for i := range s.Players {
		s.Players[i].Token = ""
	}
	return s
}

// Answer returns the player's answer to a question.
func (p *Player) Answer(questionID string) (PlayerAnswer, bool) {
	for _, a := range p.Answers {
		if a.QuestionID == questionID {
			return a, true
		}
	}
	return PlayerAnswer{}, false
}

// LastAnswer returns the most recently appended answer.
func (p *Player) LastAnswer() (PlayerAnswer, bool) {
	if len(p.Answers) == 0 {
		return PlayerAnswer{}, false
	}
	return p.Answers[len(p.Answers)-1], true
}

// Clone returns a deep copy of the session. The quiz is immutable and shared.
func (s *GameSession) Clone() *GameSession {
	c := *s
	c.Players = make([]Player, len(s.Players))
	for i, p := range s.Players {
		p.Answers = slices.Clone(p.Answers)
		c.Players[i] = p
	}
	return &c
}

// ErrIllegalAction builds the error returned for a transition the current status forbids.
func ErrIllegalAction(a Action, from Status) error {
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithReason(errors.ReasonIllegalAction),
		errors.WithMessagef("cannot %s while the game is in %s", a, from),
	)
}
