package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"fgcmatch/config"
	"fgcmatch/internal/auth"
	"fgcmatch/internal/backendtest"
	"fgcmatch/internal/cache"
	"fgcmatch/internal/domain"
	"fgcmatch/internal/models"
	"fgcmatch/internal/realtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPusher struct {
	mu     sync.Mutex
	events []UIEvent
}

func (r *recordingPusher) BroadcastAll(v interface{}) {
	ev, ok := v.(UIEvent)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingPusher) saw(typ string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Type == typ {
			return true
		}
	}
	return false
}

func TestHandleRoutesEventsToApply(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 1000)
	push := &recordingPusher{}
	bridge := realtime.NewBridge(srv.URL, backendtest.AnonKey, ryu.auth.AccessToken, config.RealtimeConfig{}, quietLogger())
	rec := NewReconciler(bridge, ryu.matches, ryu.wallet, ryu.notifications, ryu.cache, push, quietLogger())

	rec.Handle(realtime.WalletUpdated{Wallet: models.Wallet{UserID: ryu.uid, BalanceCents: 1450}})
	w, ok := cache.GetAs[models.Wallet](ryu.cache, cache.WalletKey(ryu.uid))
	require.True(t, ok)
	assert.Equal(t, int64(1450), w.BalanceCents)
	assert.True(t, push.saw(EventWallet))

	acceptor := "p2"
	m := models.Match{ID: "m1", Status: domain.StatusAccepted, CreatedBy: ryu.uid, AcceptedBy: &acceptor, UpdatedAt: time.Now()}
	rec.Handle(realtime.MatchChanged{Type: "UPDATE", Match: m})
	got, ok := cache.GetAs[models.Match](ryu.cache, cache.MatchKey("m1"))
	require.True(t, ok)
	assert.Equal(t, domain.StatusAccepted, got.Status)
	assert.True(t, push.saw(EventMatch))

	rec.Handle(realtime.SubscriptionStatus{Healthy: false})
	assert.True(t, rec.Degraded())
	assert.True(t, push.saw(EventSubscription))
}

func TestReconcilerFollowsSession(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 1000)
	push := &recordingPusher{}
	cfg := config.RealtimeConfig{
		Enabled:           true,
		HeartbeatInterval: 50 * time.Millisecond,
		ReconnectMin:      20 * time.Millisecond,
		ReconnectMax:      100 * time.Millisecond,
	}
	bridge := realtime.NewBridge(srv.URL, backendtest.AnonKey, ryu.auth.AccessToken, cfg, quietLogger())
	rec := NewReconciler(bridge, ryu.matches, ryu.wallet, ryu.notifications, ryu.cache, push, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = bridge.Run(ctx) }()
	go func() { _ = rec.Run(ctx) }()

	listen := rec.SessionListener(ctx)
	listen(auth.Event{Type: auth.EventSignedIn, Session: ryu.auth.Current()})
	require.Eventually(t, func() bool {
		return len(rec.Health()) == 4 && !rec.Degraded()
	}, 3*time.Second, 20*time.Millisecond)

	srv.SetBalance(ryu.uid, 1450)
	require.Eventually(t, func() bool {
		w, ok := cache.GetAs[models.Wallet](ryu.cache, cache.WalletKey(ryu.uid))
		return ok && w.BalanceCents == 1450
	}, 3*time.Second, 20*time.Millisecond)

	_, err := ryu.notifications.List(ctx)
	require.NoError(t, err)
	notify(srv, ryu.uid, "pushed")
	require.Eventually(t, func() bool {
		list, ok := cache.GetAs[[]models.Notification](ryu.cache, cache.NotificationsKey(ryu.uid))
		return ok && len(list) == 1 && list[0].Title == "pushed"
	}, 3*time.Second, 20*time.Millisecond)

	_, err = ryu.matches.CreateMatch(ctx, duel(300))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return push.saw(EventMatch) }, 3*time.Second, 20*time.Millisecond)

	listen(auth.Event{Type: auth.EventSignedOut})
	assert.Empty(t, bridge.Topics())
	assert.Empty(t, rec.Health())
	assert.True(t, push.saw(EventSession))
}
