package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"fgcmatch/internal/service"

	"github.com/gin-gonic/gin"
)

type SupportHandler struct {
	svc    *service.SupportService
	logger *slog.Logger
}

func NewSupportHandler(svc *service.SupportService, logger *slog.Logger) *SupportHandler {
	return &SupportHandler{svc: svc, logger: logger.With("component", "support_handler")}
}

// OpenTicket handles POST /support/tickets as JSON, or as multipart form with
// an optional "attachment" image.
func (h *SupportHandler) OpenTicket(c *gin.Context) {
	var in service.TicketInput
	var attachment io.Reader
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		in = service.TicketInput{
			Subject:  c.PostForm("subject"),
			Message:  c.PostForm("message"),
			Category: c.PostForm("category"),
			MatchID:  c.PostForm("match_id"),
		}
		f, err := openUpload(c, "attachment", true)
		if err != nil {
			badRequest(c, err)
			return
		}
		if f != nil {
			defer f.Close()
			attachment = io.LimitReader(f, maxUploadBytes)
		}
	} else if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	t, err := h.svc.OpenTicket(c.Request.Context(), in, attachment)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *SupportHandler) MyTickets(c *gin.Context) {
	list, err := h.svc.MyTickets(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": list})
}
