package realtime

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"fgcmatch/config"
	"fgcmatch/internal/backendtest"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.RealtimeConfig {
	return config.RealtimeConfig{
		Enabled:           true,
		HeartbeatInterval: 50 * time.Millisecond,
		ReconnectMin:      20 * time.Millisecond,
		ReconnectMax:      100 * time.Millisecond,
	}
}

func startBridge(t *testing.T, srv *backendtest.Server, userID string) (*Bridge, context.CancelFunc) {
	t.Helper()
	token := func(context.Context) (string, error) { return srv.AccessToken(userID, time.Hour), nil }
	b := NewBridge(srv.URL, backendtest.AnonKey, token, testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	b.Subscribe(context.Background(), UserSubscriptions(userID)...)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = b.Run(ctx) }()
	t.Cleanup(cancel)
	return b, cancel
}

// next waits for the first event accepted by keep.
func next(t *testing.T, b *Bridge, keep func(Event) bool) Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-b.Events():
			if keep(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for realtime event")
			return nil
		}
	}
}

func waitHealthy(t *testing.T, b *Bridge, topics int) {
	t.Helper()
	seen := map[string]bool{}
	for len(seen) < topics {
		ev := next(t, b, func(ev Event) bool {
			st, ok := ev.(SubscriptionStatus)
			return ok && st.Healthy
		})
		seen[ev.Topic()] = true
	}
}

func TestBridgeDeliversWalletAndNotificationChanges(t *testing.T) {
	srv := backendtest.New(t)
	uid := srv.AddUser("a@fgc.gg", "secret1", 500)
	b, _ := startBridge(t, srv, uid)
	waitHealthy(t, b, 4)

	srv.SetBalance(uid, 1450)
	ev := next(t, b, func(ev Event) bool { _, ok := ev.(WalletUpdated); return ok })
	w := ev.(WalletUpdated)
	assert.Equal(t, int64(1450), w.Wallet.BalanceCents)
	assert.Equal(t, "wallet:"+uid, w.Topic())

	srv.Insert("notifications", backendtest.Row{"user_id": uid, "type": "ALERT", "title": "hi", "content": "x", "is_read": false})
	ev = next(t, b, func(ev Event) bool { _, ok := ev.(NotificationInserted); return ok })
	assert.Equal(t, "hi", ev.(NotificationInserted).Notification.Title)
}

func TestBridgeIgnoresOtherUsersRows(t *testing.T) {
	srv := backendtest.New(t)
	a := srv.AddUser("a@fgc.gg", "secret1", 500)
	other := srv.AddUser("b@fgc.gg", "secret1", 500)
	b, _ := startBridge(t, srv, a)
	waitHealthy(t, b, 4)

	srv.SetBalance(other, 1)
	srv.SetBalance(a, 2)
	ev := next(t, b, func(ev Event) bool { _, ok := ev.(WalletUpdated); return ok })
	assert.Equal(t, int64(2), ev.(WalletUpdated).Wallet.BalanceCents)
}

func TestBridgeReportsRejectedJoin(t *testing.T) {
	srv := backendtest.New(t)
	srv.RejectRealtime = true
	uid := srv.AddUser("a@fgc.gg", "secret1", 0)
	b, _ := startBridge(t, srv, uid)

	ev := next(t, b, func(ev Event) bool { _, ok := ev.(SubscriptionStatus); return ok })
	st := ev.(SubscriptionStatus)
	assert.False(t, st.Healthy)
	require.Error(t, st.Err)
	assert.Contains(t, st.Err.Error(), "join rejected")
}

func TestBridgeReconnectsAndRejoins(t *testing.T) {
	srv := backendtest.New(t)
	uid := srv.AddUser("a@fgc.gg", "secret1", 0)
	b, _ := startBridge(t, srv, uid)
	waitHealthy(t, b, 4)

	srv.DropRealtime()
	next(t, b, func(ev Event) bool { st, ok := ev.(SubscriptionStatus); return ok && !st.Healthy })
	waitHealthy(t, b, 4)
	assert.Eventually(t, func() bool { return srv.RealtimeClients("wallet:"+uid) == 1 }, 2*time.Second, 10*time.Millisecond)

	srv.SetBalance(uid, 700)
	ev := next(t, b, func(ev Event) bool { _, ok := ev.(WalletUpdated); return ok })
	assert.Equal(t, int64(700), ev.(WalletUpdated).Wallet.BalanceCents)
}

func TestBridgeRedialsSilentConnection(t *testing.T) {
	var dials int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		atomic.AddInt32(&dials, 1)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	token := func(context.Context) (string, error) { return "token", nil }
	b := NewBridge(srv.URL, backendtest.AnonKey, token, testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	b.Subscribe(context.Background(), WalletSubscription("u1"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	ev := next(t, b, func(ev Event) bool { st, ok := ev.(SubscriptionStatus); return ok && !st.Healthy })
	assert.Equal(t, "wallet:u1", ev.Topic())
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&dials) >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestBridgeUnsubscribeAll(t *testing.T) {
	srv := backendtest.New(t)
	uid := srv.AddUser("a@fgc.gg", "secret1", 0)
	b, _ := startBridge(t, srv, uid)
	waitHealthy(t, b, 4)

	b.UnsubscribeAll()
	assert.Empty(t, b.Topics())
	assert.Eventually(t, func() bool { return srv.RealtimeClients("wallet:"+uid) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestDecodeChangeRejectsInvalidRecords(t *testing.T) {
	_, err := decodeChange("wallet:u1", []byte(`{"data":{"type":"UPDATE","table":"wallets","record":{"user_id":"u1","balance_cents":-5}}}`))
	assert.Error(t, err)
	_, err = decodeChange("x", []byte(`{"data":{"type":"INSERT","table":"profiles","record":{}}}`))
	assert.Error(t, err)
	ev, err := decodeChange("matches:created:u1", []byte(`{"data":{"type":"UPDATE","table":"matches","record":{"id":"m1","status":"ACCEPTED","created_by":"u1","accepted_by":"u2"}}}`))
	require.NoError(t, err)
	assert.Equal(t, "ACCEPTED", ev.(MatchChanged).Match.Status)
}
