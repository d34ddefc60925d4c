package repository

import (
	"context"
	"fmt"

	"fgcmatch/internal/models"
	"fgcmatch/pkg/backend"
)

type SupportRepository struct {
	c *backend.Client
}

func NewSupportRepository(c *backend.Client) *SupportRepository {
	return &SupportRepository{c: c}
}

func (r *SupportRepository) Create(ctx context.Context, t *models.SupportTicket) (*models.SupportTicket, error) {
	const op = "open support ticket"
	var rows []models.SupportTicket
	if err := r.c.From("support_tickets").Insert(ctx, t, &rows); err != nil {
		return nil, classify(op, err)
	}
	if len(rows) == 0 {
		return nil, malformed(op, fmt.Errorf("insert returned no row"))
	}
	return &rows[0], nil
}

func (r *SupportRepository) ListByUserID(ctx context.Context, userID string) ([]models.SupportTicket, error) {
	var list []models.SupportTicket
	err := r.c.From("support_tickets").Select("*").Eq("user_id", userID).Order("created_at", false).Get(ctx, &list)
	return list, classify("list support tickets", err)
}

// ListByStatus is the admin queue; an empty status lists everything.
func (r *SupportRepository) ListByStatus(ctx context.Context, status string) ([]models.SupportTicket, error) {
	var list []models.SupportTicket
	q := r.c.From("support_tickets").Select("*").Order("created_at", false)
	if status != "" {
		q = q.Eq("status", status)
	}
	err := q.Get(ctx, &list)
	return list, classify("list support queue", err)
}

func (r *SupportRepository) Resolve(ctx context.Context, ticketID, status string) error {
	const op = "resolve support ticket"
	var res struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := r.c.RPC(ctx, "resolve_support_ticket", map[string]string{"p_ticket_id": ticketID, "p_status": status}, &res); err != nil {
		return classify(op, err)
	}
	if !res.Success {
		return rejected(op, res.Error)
	}
	return nil
}

type IntegrityRepository struct {
	c *backend.Client
}

func NewIntegrityRepository(c *backend.Client) *IntegrityRepository {
	return &IntegrityRepository{c: c}
}

func (r *IntegrityRepository) List(ctx context.Context, status string, limit int) ([]models.IntegrityLog, error) {
	var list []models.IntegrityLog
	q := r.c.From("integrity_logs").Select("*,profiles:profiles!user_id(id,username)").Order("created_at", false)
	if status != "" {
		q = q.Eq("status", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Get(ctx, &list)
	return list, classify("list integrity logs", err)
}

func (r *IntegrityRepository) SetStatus(ctx context.Context, id, status string) error {
	return classify("update integrity flag", r.c.From("integrity_logs").Eq("id", id).Update(ctx, map[string]string{"status": status}, nil))
}
