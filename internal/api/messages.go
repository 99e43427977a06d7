package api

import (
	"time"

	"github.com/victornm/livequiz/internal/domain"
)

type (
	Empty struct{}

	StartGameRequest struct {
		QuizID string `json:"quiz_id"`
	}

	SessionRequest struct {
		SessionID string `json:"session_id"`
	}

	PlayerRequest struct {
		SessionID string `json:"session_id"`
		PlayerID  string `json:"player_id"`
		// Token is required when a player acts for itself.
		Token string `json:"token,omitempty"`
	}

	JoinRequest struct {
		RoomCode string `json:"room_code"`
		Nickname string `json:"nickname"`
	}

	JoinResponse struct {
		PlayerID string   `json:"player_id"`
		Token    string   `json:"token"`
		Session  *Session `json:"session"`
	}

	SubmitAnswerRequest struct {
		SessionID      string `json:"session_id"`
		PlayerID       string `json:"player_id"`
		Token          string `json:"token"`
		QuestionID     string `json:"question_id,omitempty"`
		SelectedOption int    `json:"selected_option"`
	}

	SubmitAnswerResponse struct {
		Accepted   bool     `json:"accepted"`
		Answer     *Answer  `json:"answer,omitempty"`
		TotalScore int      `json:"total_score"`
		Session    *Session `json:"session,omitempty"`
	}

	SessionResponse struct {
		Session *Session `json:"session"`
	}

	ListSessionsResponse struct {
		Sessions []*Session `json:"sessions"`
	}

	Session struct {
		SessionID            string      `json:"session_id"`
		RoomCode             string      `json:"room_code"`
		Quiz                 domain.Quiz `json:"quiz"`
		HostID               string      `json:"host_id"`
		Status               string      `json:"status"`
		CurrentQuestionIndex int         `json:"current_question_index"`
		QuestionStartedAt    *time.Time  `json:"question_started_at,omitempty"`
		Players              []Player    `json:"players"`
		CreatedAt            time.Time   `json:"created_at"`
		Version              int64       `json:"version"`
	}

	Player struct {
		PlayerID    string    `json:"player_id"`
		Nickname    string    `json:"nickname"`
		Score       int       `json:"score"`
		Answers     []Answer  `json:"answers"`
		IsConnected bool      `json:"is_connected"`
		JoinedAt    time.Time `json:"joined_at"`
	}

	Answer struct {
		QuestionID        string `json:"question_id"`
		SelectedOption    int    `json:"selected_option"`
		IsCorrect         bool   `json:"is_correct"`
		TimeToAnswerMilli int64  `json:"time_to_answer_ms"`
		Points            int    `json:"points"`
	}

	Leaderboard struct {
		SessionID string             `json:"session_id"`
		Entries   []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		PlayerID           string `json:"player_id"`
		Nickname           string `json:"nickname"`
		Score              int    `json:"score"`
		Rank               int    `json:"rank"`
		LastQuestionPoints *int   `json:"last_question_points,omitempty"`
	}
)

func toSession(ss *domain.GameSession) *Session {
	if ss == nil {
		return nil
	}

	out := &Session{
		SessionID:            ss.SessionID,
		RoomCode:             ss.RoomCode,
		Quiz:                 ss.Quiz,
		HostID:               ss.HostID,
		Status:               string(ss.Status),
		CurrentQuestionIndex: ss.CurrentQuestionIndex,
		Players:              make([]Player, 0, len(ss.Players)),
		CreatedAt:            ss.CreatedAt,
		Version:              ss.Version,
	}

	if !ss.QuestionStartedAt.IsZero() {
		t := ss.QuestionStartedAt
		out.QuestionStartedAt = &t
	}

	for _, p := range ss.Players {
		wp := Player{
			PlayerID:    p.PlayerID,
			Nickname:    p.Nickname,
			Score:       p.Score,
			Answers:     make([]Answer, 0, len(p.Answers)),
			IsConnected: p.IsConnected,
			JoinedAt:    p.JoinedAt,
		}
		for _, a := range p.Answers {
			wp.Answers = append(wp.Answers, toAnswer(a))
		}
		out.Players = append(out.Players, wp)
	}

	return out
}

func (s *Session) toDomain() *domain.GameSession {
	if s == nil {
		return nil
	}

	ss := &domain.GameSession{
		SessionID:            s.SessionID,
		RoomCode:             s.RoomCode,
		Quiz:                 s.Quiz,
		HostID:               s.HostID,
		Status:               domain.Status(s.Status),
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		Players:              make([]domain.Player, 0, len(s.Players)),
		CreatedAt:            s.CreatedAt,
		Version:              s.Version,
	}

	if s.QuestionStartedAt != nil {
		ss.QuestionStartedAt = *s.QuestionStartedAt
	}

	for _, p := range s.Players {
		dp := domain.Player{
			PlayerID:    p.PlayerID,
			Nickname:    p.Nickname,
			Score:       p.Score,
			Answers:     make([]domain.PlayerAnswer, 0, len(p.Answers)),
			IsConnected: p.IsConnected,
			JoinedAt:    p.JoinedAt,
		}
		for _, a := range p.Answers {
			dp.Answers = append(dp.Answers, a.toDomain())
		}
		ss.Players = append(ss.Players, dp)
	}

	return ss
}

func toAnswer(a domain.PlayerAnswer) Answer {
	return Answer{
		QuestionID:        a.QuestionID,
		SelectedOption:    a.SelectedOption,
		IsCorrect:         a.IsCorrect,
		TimeToAnswerMilli: a.TimeToAnswerMilli,
		Points:            a.Points,
	}
}

func (a Answer) toDomain() domain.PlayerAnswer {
	return domain.PlayerAnswer{
		QuestionID:        a.QuestionID,
		SelectedOption:    a.SelectedOption,
		IsCorrect:         a.IsCorrect,
		TimeToAnswerMilli: a.TimeToAnswerMilli,
		Points:            a.Points,
	}
}

func toLeaderboard(l domain.Leaderboard) *Leaderboard {
	out := &Leaderboard{
		SessionID: l.SessionID,
		Entries:   make([]LeaderboardEntry, 0, len(l.Entries)),
	}

	for _, e := range l.Entries {
		out.Entries = append(out.Entries, LeaderboardEntry{
			PlayerID:           e.PlayerID,
			Nickname:           e.Nickname,
			Score:              e.Score,
			Rank:               e.Rank,
			LastQuestionPoints: e.LastQuestionPoints,
		})
	}

	return out
}
