package participant

import (
	"time"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/leaderboard"
)

// Screen is what a participant should be shown for a session. Exactly one of the phase fields is
// set, matching Status.
type Screen struct {
	Status   domain.Status
	RoomCode string
	// Me is nil for the host and for players no longer in the roster.
	Me *domain.Player

	Lobby       *Lobby
	Question    *QuestionScreen
	Reveal      *Reveal
	Leaderboard *Standings
	Final       *Standings
}

type Lobby struct {
	Nicknames []string
}

type QuestionScreen struct {
	Index    int
	Total    int
	Question domain.Question
	Deadline time.Time
	// Answer is set once the player has answered.
	Answer *domain.PlayerAnswer
	// Answered counts players who answered so far.
	Answered int
}

type Reveal struct {
	Index    int
	Total    int
	Question domain.Question
	Answer   *domain.PlayerAnswer
	// Picks counts the players who chose each option.
	Picks []int
}

type Standings struct {
	Index   int
	Total   int
	IsLast  bool
	Entries []domain.LeaderboardEntry
	Mine    *domain.LeaderboardEntry
}

// Render builds the screen for a participant. playerID may be empty for the host.
func Render(ss *domain.GameSession, playerID string) Screen {
	sc := Screen{
		Status:   ss.Status,
		RoomCode: ss.RoomCode,
	}

	if p := ss.Player(playerID); p != nil {
		c := *p
		sc.Me = &c
	}

	total := len(ss.Quiz.Questions)
	q, _ := ss.CurrentQuestion()

	switch ss.Status {
	case domain.StatusWaiting:
		l := &Lobby{Nicknames: make([]string, 0, len(ss.Players))}
		for _, p := range ss.Players {
			l.Nicknames = append(l.Nicknames, p.Nickname)
		}
		sc.Lobby = l

	case domain.StatusQuestion:
		qs := &QuestionScreen{
			Index:    ss.CurrentQuestionIndex,
			Total:    total,
			Question: q,
			Deadline: ss.QuestionStartedAt.Add(q.TimeLimit()),
			Answer:   answerOf(sc.Me, q.QuestionID),
		}
		for i := range ss.Players {
			if _, ok := ss.Players[i].Answer(q.QuestionID); ok {
				qs.Answered++
			}
		}
		sc.Question = qs

	case domain.StatusAnswerReveal:
		r := &Reveal{
			Index:    ss.CurrentQuestionIndex,
			Total:    total,
			Question: q,
			Answer:   answerOf(sc.Me, q.QuestionID),
			Picks:    make([]int, len(q.Options)),
		}
		for i := range ss.Players {
			a, ok := ss.Players[i].Answer(q.QuestionID)
			if ok && a.SelectedOption >= 0 && a.SelectedOption < len(r.Picks) {
				r.Picks[a.SelectedOption]++
			}
		}
		sc.Reveal = r

	case domain.StatusLeaderboard:
		sc.Leaderboard = standings(ss, playerID)

	case domain.StatusFinished:
		sc.Final = standings(ss, playerID)
	}

	return sc
}

func standings(ss *domain.GameSession, playerID string) *Standings {
	st := &Standings{
		Index:   ss.CurrentQuestionIndex,
		Total:   len(ss.Quiz.Questions),
		IsLast:  ss.CurrentQuestionIndex >= len(ss.Quiz.Questions)-1,
		Entries: leaderboard.Rank(ss.Players),
	}

	for i := range st.Entries {
		if st.Entries[i].PlayerID == playerID {
			st.Mine = &st.Entries[i]
		}
	}

	return st
}

func answerOf(p *domain.Player, questionID string) *domain.PlayerAnswer {
	if p == nil {
		return nil
	}

	if a, ok := p.Answer(questionID); ok {
		return &a
	}
	return nil
}
