package models

import (
	"encoding/json"
	"time"
)

type SupportTicket struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Subject       string     `json:"subject"`
	Message       string     `json:"message"`
	Category      string     `json:"category"`
	MatchID       *string    `json:"match_id,omitempty"`
	AttachmentURL *string    `json:"attachment_url,omitempty"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// IntegrityLog is an anti-fraud flag raised by the backend for a match participant.
type IntegrityLog struct {
	ID         string          `json:"id"`
	MatchID    string          `json:"match_id"`
	UserID     string          `json:"user_id"`
	FlagReason string          `json:"flag_reason"`
	Severity   string          `json:"severity"` // LOW, MEDIUM, HIGH, CRITICAL
	Details    json.RawMessage `json:"details,omitempty"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	Profile    *Profile        `json:"profiles,omitempty"`
}
