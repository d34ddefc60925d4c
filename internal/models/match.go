package models

import (
	"fmt"
	"time"

	"fgcmatch/internal/domain"
)

// Match is a staked 1v1 session as stored by the backend.
type Match struct {
	ID                   string    `json:"id"`
	Game                 string    `json:"game,omitempty"`
	MatchType            string    `json:"match_type"`
	Status               string    `json:"status"`
	StakeCents           int64     `json:"stake_cents"`
	TotalPotCents        int64     `json:"total_pot_cents"`
	BestOf               int       `json:"best_of"`
	Platform             string    `json:"platform"`
	IsPrivate            bool      `json:"is_private"`
	RoomCode             *string   `json:"room_code"`
	Rules                *string   `json:"rules"`
	SpectatorChatEnabled bool      `json:"spectator_chat_enabled"`
	StreamURL            *string   `json:"twitch_url,omitempty"`
	CreatedBy            string    `json:"created_by"`
	AcceptedBy           *string   `json:"accepted_by"`
	WinnerID             *string   `json:"winner_id"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`

	Creator  *Profile `json:"profiles,omitempty"`
	Acceptor *Profile `json:"accepted_profile,omitempty"`
}

// Validate checks the invariants a match row must satisfy before it enters the cache.
func (m *Match) Validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("match without id")
	case !domain.IsStatus(m.Status):
		return fmt.Errorf("match %s: unknown status %q", m.ID, m.Status)
	case m.StakeCents < 0:
		return fmt.Errorf("match %s: negative stake", m.ID)
	case m.TotalPotCents < 0:
		return fmt.Errorf("match %s: negative pot", m.ID)
	case m.IsPrivate && m.Code() == "":
		return fmt.Errorf("match %s: private without room code", m.ID)
	case m.CreatedBy == "":
		return fmt.Errorf("match %s: no creator", m.ID)
	case m.WinnerID != nil && m.Status != domain.StatusCompleted:
		return fmt.Errorf("match %s: winner set while %s", m.ID, m.Status)
	case m.AcceptedBy != nil && m.Status == domain.StatusCreated:
		return fmt.Errorf("match %s: acceptor set while CREATED", m.ID)
	}
	return nil
}

func (m *Match) Code() string {
	if m.RoomCode == nil {
		return ""
	}
	return *m.RoomCode
}

func (m *Match) AcceptorID() string {
	if m.AcceptedBy == nil {
		return ""
	}
	return *m.AcceptedBy
}

func (m *Match) Winner() string {
	if m.WinnerID == nil {
		return ""
	}
	return *m.WinnerID
}

func (m *Match) IsCreator(userID string) bool { return userID != "" && m.CreatedBy == userID }

func (m *Match) IsParticipant(userID string) bool {
	return m.IsCreator(userID) || (userID != "" && m.AcceptedBy != nil && *m.AcceptedBy == userID)
}

// Opponent returns the other participant of userID, or "".
func (m *Match) Opponent(userID string) string {
	switch {
	case m.IsCreator(userID):
		return m.AcceptorID()
	case m.AcceptedBy != nil && *m.AcceptedBy == userID:
		return m.CreatedBy
	}
	return ""
}

// MatchStats are client-observed figures submitted after a victory claim for
// anti-fraud analysis.
type MatchStats struct {
	MatchID         string `json:"match_id"`
	PlayerID        string `json:"player_id"`
	DurationSeconds int    `json:"duration_seconds"`
	APM             int    `json:"apm"`
	DamageDealt     int    `json:"damage_dealt"`
	DamageTaken     int    `json:"damage_taken"`
}

// MatchResult is the envelope returned by the match procedures.
type MatchResult struct {
	Success  bool    `json:"success"`
	MatchID  string  `json:"match_id,omitempty"`
	RoomCode *string `json:"room_code,omitempty"`
	Payout   int64   `json:"payout_cents,omitempty"`
	Error    string  `json:"error,omitempty"`
}
