package domain

// LeaderboardEntry is a ranked view of one player, derived from the roster.
type LeaderboardEntry struct {
	PlayerID string
	Nickname string
	Score    int
	// Rank is 1-based; ties keep join order.
	Rank int
	// LastQuestionPoints is nil until the player has answered.
	LastQuestionPoints *int
}

// Leaderboard represents a list of players and their scores within a game session.
// The list is sorted by score in descending order.
type Leaderboard struct {
	SessionID string
	Entries   []LeaderboardEntry
}
