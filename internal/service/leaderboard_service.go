package service

import (
	"context"
	"fmt"
	"log/slog"

	"fgcmatch/internal/cache"
	"fgcmatch/internal/domain"
	"fgcmatch/internal/models"
	"fgcmatch/internal/repository"
)

const (
	DefaultLeaderboardSize = 100
	performanceWindow      = 20
	formLength             = 5
)

type LeaderboardService struct {
	rankings *repository.RankingRepository
	matches  *repository.MatchRepository
	cache    *cache.Cache
	id       Identity
	logger   *slog.Logger
}

func NewLeaderboardService(rankings *repository.RankingRepository, matches *repository.MatchRepository, c *cache.Cache, id Identity, logger *slog.Logger) *LeaderboardService {
	return &LeaderboardService{rankings: rankings, matches: matches, cache: c, id: id, logger: logger.With("component", "leaderboard")}
}

// Leaderboard returns one page of the rating table. The first page is cached
// and kept fresh by the poller; later pages are read through.
func (s *LeaderboardService) Leaderboard(ctx context.Context, limit int, cursor string) (*models.Leaderboard, error) {
	if limit <= 0 || limit > DefaultLeaderboardSize {
		limit = DefaultLeaderboardSize
	}
	if cursor != "" {
		return s.rankings.Leaderboard(ctx, limit, cursor)
	}
	key := cache.KeyLeaderboard
	if limit != DefaultLeaderboardSize {
		key = fmt.Sprintf("%s:%d", cache.KeyLeaderboard, limit)
	}
	return cache.FetchAs(ctx, s.cache, key, func(ctx context.Context) (*models.Leaderboard, error) {
		return s.rankings.Leaderboard(ctx, limit, "")
	})
}

func (s *LeaderboardService) MyRanking(ctx context.Context) (*models.RankingEntry, error) {
	if _, err := requireUser(s.id, "get my ranking"); err != nil {
		return nil, err
	}
	return s.rankings.Mine(ctx)
}

// Performance summarizes the player's last completed matches, with the
// head-to-head record against opponentID when one is given.
func (s *LeaderboardService) Performance(ctx context.Context, playerID, opponentID string) (models.PlayerPerformance, error) {
	if playerID == "" {
		sess, err := requireUser(s.id, "player performance")
		if err != nil {
			return models.PlayerPerformance{}, err
		}
		playerID = sess.UserID()
	}
	if playerID == opponentID {
		return models.PlayerPerformance{}, domain.E(domain.ErrInvalidParameters, "player performance", "opponent must be another player")
	}
	list, err := s.matches.RecentCompleted(ctx, playerID, performanceWindow)
	if err != nil {
		return models.PlayerPerformance{}, err
	}
	return Summarize(playerID, opponentID, list), nil
}

// Summarize computes win rate, streak, head-to-head and form from completed
// matches ordered newest first.
func Summarize(playerID, opponentID string, list []models.Match) models.PlayerPerformance {
	out := models.PlayerPerformance{RecentForm: []string{}}
	if len(list) == 0 {
		return out
	}
	wins := 0
	streak := true
	for i, m := range list {
		won := m.Winner() == playerID
		if won {
			wins++
		}
		if streak && won {
			out.CurrentStreak++
		} else {
			streak = false
		}
		if i < formLength {
			if won {
				out.RecentForm = append(out.RecentForm, "W")
			} else {
				out.RecentForm = append(out.RecentForm, "L")
			}
		}
		if opponentID != "" && m.Opponent(playerID) == opponentID {
			if won {
				out.HeadToHead.Wins++
			} else {
				out.HeadToHead.Losses++
			}
		}
	}
	out.WinRate = (wins*100 + len(list)/2) / len(list)
	return out
}
