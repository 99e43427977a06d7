package domain

const (
	EventNameSessionUpdated     = "session.updated"
	EventNamePlayerKicked       = "player.kicked"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

// EventSessionUpdated is published after every committed session mutation.
type EventSessionUpdated struct {
	Session GameSession
}

func (EventSessionUpdated) Name() string { return EventNameSessionUpdated }

func (e EventSessionUpdated) Key() string { return e.Session.SessionID }

type EventPlayerKicked struct {
	SessionID string
	PlayerID  string
	Nickname  string
}

func (EventPlayerKicked) Name() string { return EventNamePlayerKicked }

func (e EventPlayerKicked) Key() string { return e.SessionID }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
	// Recipients are the players of the session when the leaderboard was computed.
	Recipients []string
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }

func (e EventLeaderboardUpdated) Key() string { return e.Leaderboard.SessionID }
