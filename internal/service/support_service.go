package service

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"fgcmatch/internal/domain"
	"fgcmatch/internal/models"
	"fgcmatch/internal/repository"
	"fgcmatch/pkg/cloudinary"

	"github.com/google/uuid"
)

var ticketCategories = []string{"GENERAL", "PAYMENT", "MATCH", "ACCOUNT"}

type TicketInput struct {
	Subject  string `json:"subject"`
	Message  string `json:"message"`
	Category string `json:"category"`
	MatchID  string `json:"match_id"`
}

// SupportService covers player tickets and the admin review queues.
type SupportService struct {
	tickets   *repository.SupportRepository
	integrity *repository.IntegrityRepository
	media     cloudinary.Client
	id        Identity
	logger    *slog.Logger
}

func NewSupportService(tickets *repository.SupportRepository, integrity *repository.IntegrityRepository, media cloudinary.Client, id Identity, logger *slog.Logger) *SupportService {
	return &SupportService{tickets: tickets, integrity: integrity, media: media, id: id, logger: logger.With("component", "support")}
}

// OpenTicket files a ticket. attachment is an optional screenshot uploaded
// to the media store first.
func (s *SupportService) OpenTicket(ctx context.Context, in TicketInput, attachment io.Reader) (*models.SupportTicket, error) {
	const op = "open support ticket"
	sess, err := requireUser(s.id, op)
	if err != nil {
		return nil, err
	}
	in.Subject = strings.TrimSpace(in.Subject)
	in.Message = strings.TrimSpace(in.Message)
	in.Category = strings.ToUpper(strings.TrimSpace(in.Category))
	if in.Category == "" {
		in.Category = "GENERAL"
	}
	switch {
	case in.Subject == "" || in.Message == "":
		return nil, domain.E(domain.ErrInvalidParameters, op, "subject and message are required")
	case len(in.Subject) > 200:
		return nil, domain.E(domain.ErrInvalidParameters, op, "subject must be at most 200 characters")
	case !contains(ticketCategories, in.Category):
		return nil, domain.E(domain.ErrInvalidParameters, op, "unknown category "+in.Category)
	}
	t := &models.SupportTicket{
		UserID:   sess.UserID(),
		Subject:  in.Subject,
		Message:  in.Message,
		Category: in.Category,
		MatchID:  optional(in.MatchID),
	}
	if attachment != nil {
		if s.media == nil {
			return nil, domain.E(domain.ErrInvalidParameters, op, "attachments are not configured")
		}
		url, _, err := s.media.UploadImage(ctx, attachment, cloudinary.FolderAttachments+"/"+sess.UserID(), "ticket_"+uuid.NewString()[:8])
		if err != nil {
			return nil, domain.Wrap(domain.ErrNetwork, op, err)
		}
		t.AttachmentURL = &url
	}
	created, err := s.tickets.Create(ctx, t)
	if err != nil {
		return nil, err
	}
	s.logger.Info("support ticket opened", "ticket_id", created.ID, "category", created.Category)
	return created, nil
}

func (s *SupportService) MyTickets(ctx context.Context) ([]models.SupportTicket, error) {
	sess, err := requireUser(s.id, "list support tickets")
	if err != nil {
		return nil, err
	}
	return s.tickets.ListByUserID(ctx, sess.UserID())
}

func (s *SupportService) requireAdmin(op string) error {
	sess, err := requireUser(s.id, op)
	if err != nil {
		return err
	}
	if !sess.IsAdmin() {
		return domain.E(domain.ErrForbidden, op, "admin access required")
	}
	return nil
}

// Queue lists tickets for admins; an empty status lists all of them.
func (s *SupportService) Queue(ctx context.Context, status string) ([]models.SupportTicket, error) {
	if err := s.requireAdmin("support queue"); err != nil {
		return nil, err
	}
	return s.tickets.ListByStatus(ctx, strings.ToUpper(status))
}

func (s *SupportService) ResolveTicket(ctx context.Context, ticketID, status string) error {
	const op = "resolve support ticket"
	if err := s.requireAdmin(op); err != nil {
		return err
	}
	status = strings.ToUpper(status)
	if status == "" {
		status = domain.TicketResolved
	}
	if status != domain.TicketResolved && status != domain.TicketClosed {
		return domain.E(domain.ErrInvalidParameters, op, "status must be RESOLVED or CLOSED")
	}
	return s.tickets.Resolve(ctx, ticketID, status)
}

func (s *SupportService) IntegrityLogs(ctx context.Context, status string) ([]models.IntegrityLog, error) {
	if err := s.requireAdmin("integrity logs"); err != nil {
		return nil, err
	}
	return s.integrity.List(ctx, strings.ToUpper(status), 0)
}

// ResolveFlag applies an admin decision to an integrity flag: BAN marks the
// player banned, DISMISS marks the flag reviewed.
func (s *SupportService) ResolveFlag(ctx context.Context, logID, action string) error {
	const op = "resolve integrity flag"
	if err := s.requireAdmin(op); err != nil {
		return err
	}
	var status string
	switch strings.ToUpper(action) {
	case "BAN":
		status = domain.FlagBanned
	case "DISMISS":
		status = domain.FlagReviewed
	default:
		return domain.E(domain.ErrInvalidParameters, op, "action must be BAN or DISMISS")
	}
	if err := s.integrity.SetStatus(ctx, logID, status); err != nil {
		return err
	}
	s.logger.Info("integrity flag resolved", "log_id", logID, "status", status)
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
