package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastToUser(t *testing.T) {
	h := NewHub()
	a, b, other := NewClient("u1"), NewClient("u1"), NewClient("u2")
	h.Register(a)
	h.Register(b)
	h.Register(other)
	assert.Equal(t, 3, h.ClientCount())

	h.BroadcastToUser("u1", map[string]string{"type": "wallet"})
	assert.JSONEq(t, `{"type":"wallet"}`, string(<-a.Send))
	assert.JSONEq(t, `{"type":"wallet"}`, string(<-b.Send))
	assert.Empty(t, other.Send)

	a.Close()
	a.Close()
	assert.Equal(t, 2, h.ClientCount())
	h.BroadcastAll("x")
	assert.Len(t, b.Send, 1)
	assert.Len(t, other.Send, 1)
}

func TestSlowClientDoesNotBlock(t *testing.T) {
	h := NewHub()
	c := NewClient("u1")
	h.Register(c)
	for i := 0; i < cap(c.Send)+10; i++ {
		h.BroadcastAll(i)
	}
	assert.Len(t, c.Send, cap(c.Send))
	h.CloseAll()
	assert.Zero(t, h.ClientCount())
}

func TestUpgradeEventsWS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHub()
	r := gin.New()
	r.GET("/ws/events", func(c *gin.Context) { c.Set("user_id", "u1") },
		UpgradeEventsWS(h, NewUpgrader(nil), func() interface{} { return map[string]string{"type": "hello"} }))
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/events", nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"hello"}`, string(msg))

	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	h.BroadcastToUser("u1", map[string]string{"type": "match", "key": "match:m1"})
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"match","key":"match:m1"}`, string(msg))

	conn.Close()
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestUpgraderChecksOrigin(t *testing.T) {
	up := NewUpgrader([]string{"http://localhost:5173"})
	req := httptest.NewRequest("GET", "/ws/events", nil)
	assert.True(t, up.CheckOrigin(req))
	req.Header.Set("Origin", "http://localhost:5173")
	assert.True(t, up.CheckOrigin(req))
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, up.CheckOrigin(req))
}
