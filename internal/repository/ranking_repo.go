package repository

import (
	"context"
	"net/url"
	"strconv"

	"fgcmatch/internal/models"
	"fgcmatch/pkg/backend"
)

// RankingRepository reads the rating leaderboard from the platform REST API.
type RankingRepository struct {
	api *backend.APIClient
}

func NewRankingRepository(api *backend.APIClient) *RankingRepository {
	return &RankingRepository{api: api}
}

func (r *RankingRepository) Leaderboard(ctx context.Context, limit int, cursor string) (*models.Leaderboard, error) {
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var lb models.Leaderboard
	if err := r.api.Get(ctx, "/rankings", q, &lb); err != nil {
		return nil, classify("get leaderboard", err)
	}
	return &lb, nil
}

func (r *RankingRepository) Mine(ctx context.Context) (*models.RankingEntry, error) {
	var out struct {
		Data models.RankingEntry `json:"data"`
	}
	if err := r.api.Get(ctx, "/rankings/me", nil, &out); err != nil {
		return nil, classify("get my ranking", err)
	}
	return &out.Data, nil
}
