package repository

import (
	"context"
	"fmt"

	"fgcmatch/internal/domain"
	"fgcmatch/internal/models"
	"fgcmatch/pkg/backend"
)

const matchColumns = "*,profiles:profiles!created_by(id,username,reputation,avatar_url)," +
	"accepted_profile:profiles!accepted_by(id,username,reputation,avatar_url)"

type MatchRepository struct {
	c *backend.Client
}

func NewMatchRepository(c *backend.Client) *MatchRepository {
	return &MatchRepository{c: c}
}

// CreateMatchInput is the argument object of create_match_with_wallet.
type CreateMatchInput struct {
	Game                 string  `json:"p_game"`
	MatchType            string  `json:"p_match_type"`
	StakeCents           int64   `json:"p_stake_cents"`
	BestOf               int     `json:"p_best_of"`
	Platform             string  `json:"p_platform"`
	IsPrivate            bool    `json:"p_is_private"`
	Rules                string  `json:"p_rules"`
	SpectatorChatEnabled bool    `json:"p_spectator_chat_enabled"`
	StreamURL            *string `json:"p_twitch_url"`
}

func checkMatches(op string, list []models.Match) error {
	for i := range list {
		if err := list[i].Validate(); err != nil {
			return malformed(op, err)
		}
	}
	return nil
}

func (r *MatchRepository) Get(ctx context.Context, id string) (*models.Match, error) {
	const op = "get match"
	var m models.Match
	if err := r.c.From("matches").Select(matchColumns).Eq("id", id).Single(ctx, &m); err != nil {
		return nil, classify(op, err)
	}
	if err := m.Validate(); err != nil {
		return nil, malformed(op, err)
	}
	return &m, nil
}

// ListOpen returns public matches waiting for an opponent, newest first.
func (r *MatchRepository) ListOpen(ctx context.Context) ([]models.Match, error) {
	const op = "list open matches"
	var list []models.Match
	err := r.c.From("matches").Select(matchColumns).
		Eq("status", domain.StatusCreated).
		Eq("is_private", "false").
		Order("created_at", false).
		Get(ctx, &list)
	if err != nil {
		return nil, classify(op, err)
	}
	if err := checkMatches(op, list); err != nil {
		return nil, err
	}
	return list, nil
}

// ListByUser returns matches the user created or accepted, most recently updated first.
func (r *MatchRepository) ListByUser(ctx context.Context, userID string) ([]models.Match, error) {
	const op = "list user matches"
	var list []models.Match
	err := r.c.From("matches").Select(matchColumns).
		Or(fmt.Sprintf("created_by.eq.%s,accepted_by.eq.%s", userID, userID)).
		Order("updated_at", false).
		Get(ctx, &list)
	if err != nil {
		return nil, classify(op, err)
	}
	if err := checkMatches(op, list); err != nil {
		return nil, err
	}
	return list, nil
}

// FindByRoomCode looks up a match by its normalized room code.
func (r *MatchRepository) FindByRoomCode(ctx context.Context, code string) (*models.Match, error) {
	const op = "find match by room code"
	var list []models.Match
	if err := r.c.From("matches").Select(matchColumns).Eq("room_code", code).Limit(1).Get(ctx, &list); err != nil {
		return nil, classify(op, err)
	}
	if len(list) == 0 {
		return nil, domain.E(domain.ErrNotFound, op, "match not found or invalid room code")
	}
	if err := list[0].Validate(); err != nil {
		return nil, malformed(op, err)
	}
	return &list[0], nil
}

// RecentCompleted returns the user's last completed matches, newest first.
func (r *MatchRepository) RecentCompleted(ctx context.Context, userID string, limit int) ([]models.Match, error) {
	const op = "list completed matches"
	var list []models.Match
	err := r.c.From("matches").Select("*").
		Or(fmt.Sprintf("created_by.eq.%s,accepted_by.eq.%s", userID, userID)).
		Eq("status", domain.StatusCompleted).
		Order("updated_at", false).
		Limit(limit).
		Get(ctx, &list)
	if err != nil {
		return nil, classify(op, err)
	}
	if err := checkMatches(op, list); err != nil {
		return nil, err
	}
	return list, nil
}

func (r *MatchRepository) Suggested(ctx context.Context, userID string) ([]models.Match, error) {
	const op = "find suggested matches"
	var list []models.Match
	if err := r.c.RPC(ctx, "find_suggested_matches", map[string]string{"p_user_id": userID}, &list); err != nil {
		return nil, classify(op, err)
	}
	if err := checkMatches(op, list); err != nil {
		return nil, err
	}
	return list, nil
}

func (r *MatchRepository) procedure(ctx context.Context, op, name string, params interface{}) (*models.MatchResult, error) {
	var res models.MatchResult
	if err := r.c.RPC(ctx, name, params, &res); err != nil {
		return nil, classify(op, err)
	}
	if !res.Success {
		return nil, rejected(op, res.Error)
	}
	return &res, nil
}

// Create debits the caller's wallet and stores a new match in one procedure.
func (r *MatchRepository) Create(ctx context.Context, in CreateMatchInput) (*models.MatchResult, error) {
	const op = "create match"
	res, err := r.procedure(ctx, op, "create_match_with_wallet", in)
	if err != nil {
		return nil, err
	}
	if res.MatchID == "" {
		return nil, malformed(op, fmt.Errorf("no match_id in result"))
	}
	return res, nil
}

// Join debits the caller's stake and moves the match CREATED -> ACCEPTED.
func (r *MatchRepository) Join(ctx context.Context, matchID string) (*models.MatchResult, error) {
	return r.procedure(ctx, "accept match", "join_match_with_wallet", map[string]string{"p_match_id": matchID})
}

// Complete settles the match with winnerID as the winner.
func (r *MatchRepository) Complete(ctx context.Context, matchID, winnerID string) (*models.MatchResult, error) {
	return r.procedure(ctx, "complete match", "complete_match_with_payout",
		map[string]string{"p_match_id": matchID, "p_winner_id": winnerID})
}

// Cancel moves the match to CANCELLED and refunds the stakes.
func (r *MatchRepository) Cancel(ctx context.Context, matchID string) (*models.MatchResult, error) {
	return r.procedure(ctx, "cancel match", "cancel_match_with_refund", map[string]string{"p_match_id": matchID})
}

// Start is a conditional update: it only matches a row that is still ACCEPTED
// and owned by creatorID, so a lost race yields zero rows.
func (r *MatchRepository) Start(ctx context.Context, matchID, creatorID string) (*models.Match, error) {
	const op = "start match"
	var rows []models.Match
	patch := map[string]string{"status": domain.StatusInProgress}
	err := r.c.From("matches").
		Eq("id", matchID).
		Eq("status", domain.StatusAccepted).
		Eq("created_by", creatorID).
		Update(ctx, patch, &rows)
	if err != nil {
		return nil, classify(op, err)
	}
	if len(rows) == 0 {
		return nil, domain.E(domain.ErrInvalidState, op, "match is no longer waiting to start")
	}
	if err := rows[0].Validate(); err != nil {
		return nil, malformed(op, err)
	}
	return &rows[0], nil
}

func (r *MatchRepository) InsertStats(ctx context.Context, s models.MatchStats) error {
	return classify("record match stats", r.c.From("match_stats").Insert(ctx, s, nil))
}

func (r *MatchRepository) ApplyLeavePenalty(ctx context.Context, matchID, userID string) error {
	err := r.c.RPC(ctx, "apply_match_leave_penalty", map[string]string{"p_match_id": matchID, "p_user_id": userID}, nil)
	return classify("apply leave penalty", err)
}
