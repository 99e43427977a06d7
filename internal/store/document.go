package store

import (
	"sort"
	"time"

	"github.com/victornm/livequiz/internal/domain"
)

// Documents are the persisted shapes of a session. Timestamps are stored as unix milliseconds.

type quizDoc struct {
	QuizID      string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Questions   []domain.Question `json:"questions"`
	CreatedBy   string            `json:"createdBy"`
	CreatedAt   int64             `json:"createdAt"`
	UpdatedAt   int64             `json:"updatedAt"`
}

type sessionDoc struct {
	SessionID            string        `json:"id"`
	RoomCode             string        `json:"roomCode"`
	Quiz                 quizDoc       `json:"quiz"`
	HostID               string        `json:"hostId"`
	Status               domain.Status `json:"status"`
	CurrentQuestionIndex int           `json:"currentQuestionIndex"`
	QuestionStartTime    *int64        `json:"questionStartTime,omitempty"`
	CreatedAt            int64         `json:"createdAt"`
	Version              int64         `json:"version"`
	// NextSeq is the join sequence handed to the next player.
	NextSeq int64 `json:"nextSeq"`
	// Players is only filled in pushed snapshots; the roster lives in its own hash.
	Players []playerDoc `json:"players,omitempty"`
}

type playerDoc struct {
	PlayerID    string      `json:"id"`
	Nickname    string      `json:"nickname"`
	Score       int         `json:"score"`
	Answers     []answerDoc `json:"answers"`
	IsConnected bool        `json:"isConnected"`
	JoinedAt    int64       `json:"joinedAt"`
	Seq         int64       `json:"seq"`
	// Token never appears in pushed snapshots.
	Token string `json:"token,omitempty"`
}

type answerDoc struct {
	QuestionID     string `json:"questionId"`
	SelectedOption int    `json:"selectedOption"`
	IsCorrect      bool   `json:"isCorrect"`
	TimeToAnswer   int64  `json:"timeToAnswer"`
	Points         int    `json:"points"`
}

// snapshot is the message pushed on a session channel after each commit.
type snapshot struct {
	Version int64       `json:"version"`
	Deleted bool        `json:"deleted,omitempty"`
	Session *sessionDoc `json:"session,omitempty"`
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func toQuizDoc(q domain.Quiz) quizDoc {
	return quizDoc{
		QuizID:      q.QuizID,
		Title:       q.Title,
		Description: q.Description,
		Questions:   q.Questions,
		CreatedBy:   q.CreatedBy,
		CreatedAt:   toMillis(q.CreatedAt),
		UpdatedAt:   toMillis(q.UpdatedAt),
	}
}

func (d quizDoc) toDomain() domain.Quiz {
	return domain.Quiz{
		QuizID:      d.QuizID,
		Title:       d.Title,
		Description: d.Description,
		Questions:   d.Questions,
		CreatedBy:   d.CreatedBy,
		CreatedAt:   fromMillis(d.CreatedAt),
		UpdatedAt:   fromMillis(d.UpdatedAt),
	}
}

func toSessionDoc(s *domain.GameSession, nextSeq int64) sessionDoc {
	d := sessionDoc{
		SessionID:            s.SessionID,
		RoomCode:             s.RoomCode,
		Quiz:                 toQuizDoc(s.Quiz),
		HostID:               s.HostID,
		Status:               s.Status,
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		CreatedAt:            toMillis(s.CreatedAt),
		Version:              s.Version,
		NextSeq:              nextSeq,
	}

	if !s.QuestionStartedAt.IsZero() {
		ms := s.QuestionStartedAt.UnixMilli()
		d.QuestionStartTime = &ms
	}

	return d
}

func toPlayerDoc(p domain.Player, seq int64) playerDoc {
	d := playerDoc{
		PlayerID:    p.PlayerID,
		Nickname:    p.Nickname,
		Score:       p.Score,
		Answers:     make([]answerDoc, 0, len(p.Answers)),
		IsConnected: p.IsConnected,
		JoinedAt:    toMillis(p.JoinedAt),
		Seq:         seq,
		Token:       p.Token,
	}

	for _, a := range p.Answers {
		d.Answers = append(d.Answers, answerDoc{
			QuestionID:     a.QuestionID,
			SelectedOption: a.SelectedOption,
			IsCorrect:      a.IsCorrect,
			TimeToAnswer:   a.TimeToAnswerMilli,
			Points:         a.Points,
		})
	}

	return d
}

func (d playerDoc) toDomain() domain.Player {
	p := domain.Player{
		PlayerID:    d.PlayerID,
		Nickname:    d.Nickname,
		Score:       d.Score,
		Answers:     make([]domain.PlayerAnswer, 0, len(d.Answers)),
		IsConnected: d.IsConnected,
		JoinedAt:    fromMillis(d.JoinedAt),
		Token:       d.Token,
	}

	for _, a := range d.Answers {
		p.Answers = append(p.Answers, domain.PlayerAnswer{
			QuestionID:        a.QuestionID,
			SelectedOption:    a.SelectedOption,
			IsCorrect:         a.IsCorrect,
			TimeToAnswerMilli: a.TimeToAnswer,
			Points:            a.Points,
		})
	}

	return p
}

// toDomain assembles a session from its header and roster documents, ordering players by join sequence.
func (d sessionDoc) toDomain(players []playerDoc) *domain.GameSession {
	s := &domain.GameSession{
		SessionID:            d.SessionID,
		RoomCode:             d.RoomCode,
		Quiz:                 d.Quiz.toDomain(),
		HostID:               d.HostID,
		Status:               d.Status,
		CurrentQuestionIndex: d.CurrentQuestionIndex,
		CreatedAt:            fromMillis(d.CreatedAt),
		Version:              d.Version,
		Players:              make([]domain.Player, 0, len(players)),
	}

	if d.QuestionStartTime != nil {
		s.QuestionStartedAt = fromMillis(*d.QuestionStartTime)
	}

	sort.SliceStable(players, func(i, j int) bool { return players[i].Seq < players[j].Seq })
	for _, p := range players {
		s.Players = append(s.Players, p.toDomain())
	}

	return s
}
