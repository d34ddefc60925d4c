package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"fgcmatch/internal/domain"
	"fgcmatch/internal/models"
	"fgcmatch/internal/service"
	"fgcmatch/pkg/payment"

	"github.com/gin-gonic/gin"
)

type WalletHandler struct {
	svc    *service.WalletService
	logger *slog.Logger
}

func NewWalletHandler(svc *service.WalletService, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{svc: svc, logger: logger.With("component", "wallet_handler")}
}

// amountRequest accepts either integer cents or a decimal string ("12.50").
type amountRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Amount      string `json:"amount"`
}

func (r amountRequest) cents() (int64, error) {
	if r.Amount == "" {
		return r.AmountCents, nil
	}
	return payment.ParseAmount(r.Amount)
}

// GetBalance returns the signed-in player's wallet as last confirmed by the server.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	w, err := h.svc.GetWallet(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance_cents": w.BalanceCents,
		"balance":       models.FormatCents(w.BalanceCents),
		"updated_at":    w.UpdatedAt,
	})
}

func (h *WalletHandler) GetTransactions(c *gin.Context) {
	list, err := h.svc.Transactions(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": list})
}

func (h *WalletHandler) GetWithdrawals(c *gin.Context) {
	list, err := h.svc.Withdrawals(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": list})
}

// MockDeposit handles POST /wallet/mock-deposit, the no-payment top-up path.
func (h *WalletHandler) MockDeposit(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cents, err := req.cents()
	if err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.AddFunds(c.Request.Context(), cents)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *WalletHandler) BeginDeposit(c *gin.Context) {
	var req struct {
		amountRequest
		Provider string `json:"provider" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cents, err := req.cents()
	if err != nil {
		badRequest(c, err)
		return
	}
	d, err := h.svc.BeginDeposit(c.Request.Context(), req.Provider, cents)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

// CompleteDeposit handles POST /wallet/deposits/:id/complete once the player
// has paid with the provider.
func (h *WalletHandler) CompleteDeposit(c *gin.Context) {
	var req struct {
		PaymentMethod string `json:"payment_method"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	p, err := h.svc.CompleteDeposit(c.Request.Context(), c.Param("id"), req.PaymentMethod)
	h.paymentResult(c, p, err)
}

func (h *WalletHandler) ListGaps(c *gin.Context) {
	list, err := h.svc.Gaps(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"gaps": list})
}

func (h *WalletHandler) RetryGap(c *gin.Context) {
	p, err := h.svc.RetryReconciliation(c.Request.Context(), c.Param("id"))
	h.paymentResult(c, p, err)
}

// paymentResult keeps the journaled payment in the body of a gap response so
// the UI can show the provider reference.
func (h *WalletHandler) paymentResult(c *gin.Context, p *models.Payment, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, p)
	case errors.Is(err, domain.ErrReconciliationGap) && p != nil:
		h.logger.Warn("deposit left unreconciled", "payment_id", p.ID, "reference", p.ProviderRef)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
			"error":   domain.Message(err),
			"code":    domain.ErrReconciliationGap.Code(),
			"payment": p,
		})
	default:
		respondError(c, h.logger, err)
	}
}

func (h *WalletHandler) Withdraw(c *gin.Context) {
	var req struct {
		amountRequest
		Method  string            `json:"method" binding:"required"`
		Details map[string]string `json:"details"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cents, err := req.cents()
	if err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.RequestWithdrawal(c.Request.Context(), cents, req.Method, req.Details)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}
