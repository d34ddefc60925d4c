package handler

import (
	"net/http"

	"fgcmatch/internal/auth"
	"fgcmatch/internal/service"
	"fgcmatch/internal/ws"

	"github.com/gin-gonic/gin"
)

// HealthHandler reports whether the daemon is signed in and whether live
// updates are flowing or the UI is on polling only.
type HealthHandler struct {
	provider   *auth.Provider
	reconciler *service.Reconciler
	hub        *ws.Hub
}

func NewHealthHandler(provider *auth.Provider, reconciler *service.Reconciler, hub *ws.Hub) *HealthHandler {
	return &HealthHandler{provider: provider, reconciler: reconciler, hub: hub}
}

func (h *HealthHandler) snapshot() gin.H {
	return gin.H{
		"session":  h.provider.State().String(),
		"realtime": h.reconciler.Health(),
		"degraded": h.reconciler.Degraded(),
		"tabs":     h.hub.ClientCount(),
	}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.snapshot())
}

// Hello is the first message sent on /ws/events.
func (h *HealthHandler) Hello() interface{} {
	return service.UIEvent{Type: "hello", Payload: h.snapshot()}
}
