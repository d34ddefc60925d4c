package repository

import (
	"context"

	"fgcmatch/internal/models"
	"fgcmatch/pkg/backend"
)

type ProfileRepository struct {
	c *backend.Client
}

func NewProfileRepository(c *backend.Client) *ProfileRepository {
	return &ProfileRepository{c: c}
}

func (r *ProfileRepository) Get(ctx context.Context, userID string) (*models.Profile, error) {
	var p models.Profile
	if err := r.c.From("profiles").Select("*").Eq("id", userID).Single(ctx, &p); err != nil {
		return nil, classify("get profile", err)
	}
	return &p, nil
}

// Update patches the public profile row of userID.
func (r *ProfileRepository) Update(ctx context.Context, userID string, patch map[string]string) (*models.Profile, error) {
	const op = "update profile"
	var rows []models.Profile
	if err := r.c.From("profiles").Eq("id", userID).Update(ctx, patch, &rows); err != nil {
		return nil, classify(op, err)
	}
	if len(rows) == 0 {
		return nil, rejected(op, "profile not found")
	}
	return &rows[0], nil
}
