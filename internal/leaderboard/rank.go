package leaderboard

import (
	"sort"

	"github.com/victornm/livequiz/internal/domain"
)

// Rank orders players by score, highest first. Players with equal scores keep roster order.
// It holds no state and is cheap enough to run on every snapshot.
func Rank(players []domain.Player) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(players))
	for _, p := range players {
		e := domain.LeaderboardEntry{
			PlayerID: p.PlayerID,
			Nickname: p.Nickname,
			Score:    p.Score,
		}

		if a, ok := p.LastAnswer(); ok {
			pts := a.Points
			e.LastQuestionPoints = &pts
		}

		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})

	for i := range entries {
		entries[i].Rank = i + 1
	}

	return entries
}

// Of builds the leaderboard of a session.
func Of(ss *domain.GameSession) domain.Leaderboard {
	return domain.Leaderboard{
		SessionID: ss.SessionID,
		Entries:   Rank(ss.Players),
	}
}
