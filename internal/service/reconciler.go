package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"fgcmatch/internal/auth"
	"fgcmatch/internal/cache"
	"fgcmatch/internal/realtime"
)

// UI event types pushed to connected tabs.
const (
	EventWallet       = "wallet"
	EventNotification = "notification"
	EventMatch        = "match"
	EventSubscription = "subscription"
	EventInvalidated  = "invalidated"
	EventUpdated      = "updated"
	EventSession      = "session"
)

// UIEvent is one message on the local push socket.
type UIEvent struct {
	Type    string      `json:"type"`
	Key     string      `json:"key,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// Pusher fans UI events out to the open tabs.
type Pusher interface {
	BroadcastAll(payload interface{})
}

// Subscriber is the realtime bridge as seen by the reconciler.
type Subscriber interface {
	Subscribe(ctx context.Context, subs ...realtime.Subscription)
	UnsubscribeAll()
	SetAccessToken(token string)
	Events() <-chan realtime.Event
}

// Reconciler routes realtime events into the same per-entity apply functions
// the services use after their own calls, and keeps the bridge subscribed
// for whoever is signed in.
type Reconciler struct {
	bridge        Subscriber
	matches       *MatchService
	wallet        *WalletService
	notifications *NotificationService
	cache         *cache.Cache
	push          Pusher
	logger        *slog.Logger

	mu     sync.Mutex
	health map[string]bool
}

func NewReconciler(bridge Subscriber, matches *MatchService, wallet *WalletService, notifications *NotificationService, c *cache.Cache, push Pusher, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		bridge:        bridge,
		matches:       matches,
		wallet:        wallet,
		notifications: notifications,
		cache:         c,
		push:          push,
		logger:        logger.With("component", "reconciler"),
		health:        make(map[string]bool),
	}
}

func (r *Reconciler) emit(ev UIEvent) {
	if r.push != nil {
		r.push.BroadcastAll(ev)
	}
}

// Handle applies one realtime event.
func (r *Reconciler) Handle(ev realtime.Event) {
	switch e := ev.(type) {
	case realtime.WalletUpdated:
		r.wallet.Apply(e.Wallet)
		r.emit(UIEvent{Type: EventWallet, Key: cache.WalletKey(e.Wallet.UserID), Payload: e.Wallet})
	case realtime.NotificationInserted:
		r.notifications.ApplyInserted(e.Notification)
		r.emit(UIEvent{Type: EventNotification, Key: cache.NotificationsKey(e.Notification.UserID), Payload: e.Notification})
	case realtime.MatchChanged:
		if r.matches.Apply(e.Match) {
			r.emit(UIEvent{Type: EventMatch, Key: cache.MatchKey(e.Match.ID), Payload: e.Match})
		}
		r.cache.Invalidate(cache.PrefixMatchLists)
	case realtime.SubscriptionStatus:
		r.mu.Lock()
		was, seen := r.health[e.Topic()]
		r.health[e.Topic()] = e.Healthy
		r.mu.Unlock()
		if seen && was == e.Healthy {
			return
		}
		if e.Healthy {
			r.logger.Info("subscription healthy", "topic", e.Topic())
		} else {
			r.logger.Warn("subscription down, polling only", "topic", e.Topic(), "error", e.Err)
		}
		r.emit(UIEvent{Type: EventSubscription, Key: e.Topic(), Payload: e.Healthy})
	}
}

// Run consumes realtime events and forwards cache changes to the UI until
// ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	changes, stop := r.cache.Subscribe()
	defer stop()
	events := r.bridge.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			r.Handle(ev)
		case ch, ok := <-changes:
			if !ok {
				return nil
			}
			if ch.Invalidated {
				r.emit(UIEvent{Type: EventInvalidated, Key: ch.Key})
			} else {
				r.emit(UIEvent{Type: EventUpdated, Key: ch.Key})
			}
		}
	}
}

// SessionListener returns the auth listener that (re)subscribes the bridge
// on sign-in, rotates its token on refresh and drops all user data on
// sign-out. Slow work runs off the listener goroutine.
func (r *Reconciler) SessionListener(ctx context.Context) func(auth.Event) {
	return func(ev auth.Event) {
		switch ev.Type {
		case auth.EventInitialSession, auth.EventSignedIn:
			if ev.Session == nil {
				return
			}
			uid := ev.Session.UserID()
			r.bridge.SetAccessToken(ev.Session.AccessToken)
			go func() {
				r.bridge.UnsubscribeAll()
				r.bridge.Subscribe(ctx, realtime.UserSubscriptions(uid)...)
				if n := r.wallet.RetryGaps(ctx); n > 0 {
					r.logger.Info("reconciled pending deposits", "count", n)
				}
			}()
			r.emit(UIEvent{Type: EventSession, Payload: "signed_in"})
		case auth.EventTokenRefreshed, auth.EventMFAVerified:
			if ev.Session != nil {
				r.bridge.SetAccessToken(ev.Session.AccessToken)
			}
		case auth.EventSignedOut:
			r.bridge.UnsubscribeAll()
			r.cache.Clear()
			r.mu.Lock()
			r.health = make(map[string]bool)
			r.mu.Unlock()
			r.emit(UIEvent{Type: EventSession, Payload: "signed_out"})
		}
	}
}

// TopicHealth is the last known state of one realtime channel.
type TopicHealth struct {
	Topic   string `json:"topic"`
	Healthy bool   `json:"healthy"`
}

func (r *Reconciler) Health() []TopicHealth {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TopicHealth, 0, len(r.health))
	for t, ok := range r.health {
		out = append(out, TopicHealth{Topic: t, Healthy: ok})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

// Degraded reports whether any channel is down.
func (r *Reconciler) Degraded() bool {
	for _, h := range r.Health() {
		if !h.Healthy {
			return true
		}
	}
	return false
}
