package service

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"fgcmatch/internal/domain"
	"fgcmatch/internal/models"
	"fgcmatch/internal/repository"
	"fgcmatch/pkg/backend"
	"fgcmatch/pkg/cloudinary"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)

const maxBioLength = 280

// AccountUpdater changes the auth user's metadata.
type AccountUpdater interface {
	UpdateUser(ctx context.Context, attrs backend.UserAttributes) (*models.User, error)
}

type ProfileService struct {
	profiles *repository.ProfileRepository
	account  AccountUpdater
	media    cloudinary.Client
	id       Identity
	logger   *slog.Logger
}

func NewProfileService(profiles *repository.ProfileRepository, account AccountUpdater, media cloudinary.Client, id Identity, logger *slog.Logger) *ProfileService {
	return &ProfileService{profiles: profiles, account: account, media: media, id: id, logger: logger.With("component", "profile")}
}

func (s *ProfileService) Get(ctx context.Context) (*models.Profile, error) {
	sess, err := requireUser(s.id, "get profile")
	if err != nil {
		return nil, err
	}
	return s.profiles.Get(ctx, sess.UserID())
}

// UpdateProfile changes the public username and bio. The auth metadata is
// kept in step so the session carries the new name.
func (s *ProfileService) UpdateProfile(ctx context.Context, username, bio string) (*models.Profile, error) {
	const op = "update profile"
	sess, err := requireUser(s.id, op)
	if err != nil {
		return nil, err
	}
	username = strings.TrimSpace(username)
	bio = strings.TrimSpace(bio)
	switch {
	case !usernamePattern.MatchString(username):
		return nil, domain.E(domain.ErrInvalidParameters, op, "username must be 3-20 letters, digits or underscores")
	case len([]rune(bio)) > maxBioLength:
		return nil, domain.E(domain.ErrInvalidParameters, op, "bio is too long")
	}
	p, err := s.profiles.Update(ctx, sess.UserID(), map[string]string{"username": username, "bio": bio})
	if err != nil {
		return nil, err
	}
	if _, err := s.account.UpdateUser(ctx, backend.UserAttributes{Data: map[string]interface{}{"username": username}}); err != nil {
		s.logger.Warn("auth metadata not updated", "error", err)
	}
	return p, nil
}

// UploadAvatar stores a new avatar image and points the profile at it. The
// previous image is removed once the profile no longer references it.
func (s *ProfileService) UploadAvatar(ctx context.Context, image io.Reader) (*models.Profile, error) {
	const op = "upload avatar"
	sess, err := requireUser(s.id, op)
	if err != nil {
		return nil, err
	}
	if s.media == nil {
		return nil, domain.E(domain.ErrInvalidParameters, op, "media uploads are not configured")
	}
	uid := sess.UserID()
	previous := sess.User.AvatarURL()
	url, _, err := s.media.UploadImage(ctx, image, cloudinary.FolderAvatars, uid)
	if err != nil {
		return nil, domain.Wrap(domain.ErrNetwork, op, err)
	}
	p, err := s.profiles.Update(ctx, uid, map[string]string{"avatar_url": url})
	if err != nil {
		return nil, err
	}
	if _, err := s.account.UpdateUser(ctx, backend.UserAttributes{Data: map[string]interface{}{"avatar_url": url}}); err != nil {
		s.logger.Warn("auth metadata not updated", "error", err)
	}
	if previous != "" && previous != url {
		if err := s.media.DeleteByURL(ctx, previous); err != nil {
			s.logger.Warn("old avatar not deleted", "url", previous, "error", err)
		}
	}
	return p, nil
}
