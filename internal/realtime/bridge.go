// Package realtime subscribes to the backend's change feeds over the Phoenix
// channel protocol and delivers typed events on a Go channel.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"fgcmatch/config"

	"github.com/gorilla/websocket"
)

const (
	writeWait   = 10 * time.Second
	eventBuffer = 256
)

// TokenFunc returns the access token sent with channel joins.
type TokenFunc func(ctx context.Context) (string, error)

type message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref,omitempty"`
}

type replyPayload struct {
	Status   string `json:"status"`
	Response struct {
		Reason string `json:"reason"`
	} `json:"response"`
}

type Bridge struct {
	wsURL      string
	token      TokenFunc
	logger     *slog.Logger
	heartbeat  time.Duration
	backoffMin time.Duration
	backoffMax time.Duration
	dialer     *websocket.Dialer

	events chan Event

	mu      sync.Mutex
	subs    map[string]Subscription
	conn    *websocket.Conn
	ref     uint64
	pending map[string]string // ref -> topic awaiting a join reply
	joined  map[string]string // topic -> join ref
	hbRef   string            // last heartbeat not yet acknowledged

	writeMu sync.Mutex
}

func NewBridge(backendURL, apiKey string, token TokenFunc, cfg config.RealtimeConfig, logger *slog.Logger) *Bridge {
	u := strings.TrimRight(backendURL, "/")
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	q := url.Values{"apikey": {apiKey}, "vsn": {"1.0.0"}}
	return &Bridge{
		wsURL:      u + "/realtime/v1/websocket?" + q.Encode(),
		token:      token,
		logger:     logger.With("component", "realtime"),
		heartbeat:  cfg.HeartbeatInterval,
		backoffMin: cfg.ReconnectMin,
		backoffMax: cfg.ReconnectMax,
		dialer:     websocket.DefaultDialer,
		events:     make(chan Event, eventBuffer),
		subs:       make(map[string]Subscription),
		pending:    make(map[string]string),
		joined:     make(map[string]string),
	}
}

// Events is the single stream of realtime events. It is never closed.
func (b *Bridge) Events() <-chan Event { return b.events }

// Subscribe registers channels and joins them right away when connected.
// Channels are re-joined after every reconnect.
func (b *Bridge) Subscribe(ctx context.Context, subs ...Subscription) {
	b.mu.Lock()
	for _, s := range subs {
		b.subs[s.Topic] = s
	}
	connected := b.conn != nil
	b.mu.Unlock()
	if !connected {
		return
	}
	for _, s := range subs {
		if err := b.join(ctx, s); err != nil {
			b.logger.Warn("join failed", "topic", s.Topic, "error", err)
		}
	}
}

// UnsubscribeAll leaves every channel, e.g. after sign-out.
func (b *Bridge) UnsubscribeAll() {
	b.mu.Lock()
	topics := make([]string, 0, len(b.subs))
	for t := range b.subs {
		topics = append(topics, t)
	}
	b.subs = make(map[string]Subscription)
	b.mu.Unlock()
	for _, t := range topics {
		b.leave(t)
	}
}

// Topics lists the registered channel topics.
func (b *Bridge) Topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.subs))
	for t := range b.subs {
		out = append(out, t)
	}
	return out
}

// SetAccessToken forwards a refreshed token to every joined channel so that
// row-level security keeps matching the signed-in user.
func (b *Bridge) SetAccessToken(token string) {
	b.mu.Lock()
	topics := make([]string, 0, len(b.joined))
	for t := range b.joined {
		topics = append(topics, t)
	}
	b.mu.Unlock()
	for _, t := range topics {
		payload, _ := json.Marshal(map[string]string{"access_token": token})
		if err := b.send(wireTopic(t), "access_token", payload); err != nil {
			b.logger.Debug("token push failed", "topic", t, "error", err)
		}
	}
}

func wireTopic(topic string) string { return "realtime:" + topic }

func (b *Bridge) nextRef() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ref++
	return strconv.FormatUint(b.ref, 10)
}

func (b *Bridge) send(topic, event string, payload json.RawMessage) error {
	return b.sendRef(topic, event, payload, b.nextRef(), nil)
}

func (b *Bridge) sendRef(topic, event string, payload json.RawMessage, ref string, joinRef *string) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}
	data, err := json.Marshal(message{Topic: topic, Event: event, Payload: payload, Ref: &ref, JoinRef: joinRef})
	if err != nil {
		return err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (b *Bridge) join(ctx context.Context, s Subscription) error {
	token, err := b.token(ctx)
	if err != nil {
		return fmt.Errorf("token for join: %w", err)
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"config": map[string]interface{}{
			"broadcast":        map[string]bool{"self": false},
			"presence":         map[string]string{"key": ""},
			"postgres_changes": []map[string]string{{"event": s.Event, "schema": s.Schema, "table": s.Table, "filter": s.Filter}},
		},
		"access_token": token,
	})
	ref := b.nextRef()
	b.mu.Lock()
	b.pending[ref] = s.Topic
	b.joined[s.Topic] = ref
	b.mu.Unlock()
	return b.sendRef(wireTopic(s.Topic), "phx_join", payload, ref, &ref)
}

func (b *Bridge) leave(topic string) {
	b.mu.Lock()
	joinRef, ok := b.joined[topic]
	delete(b.joined, topic)
	b.mu.Unlock()
	if !ok {
		return
	}
	_ = b.sendRef(wireTopic(topic), "phx_leave", json.RawMessage(`{}`), b.nextRef(), &joinRef)
}

func (b *Bridge) publish(ctx context.Context, ev Event) {
	select {
	case b.events <- ev:
	case <-ctx.Done():
	}
}

func (b *Bridge) markAll(ctx context.Context, healthy bool, err error) {
	for _, t := range b.Topics() {
		b.publish(ctx, SubscriptionStatus{topic: t, Healthy: healthy, Err: err})
	}
}

// Run keeps the connection up until ctx is cancelled, reconnecting with
// exponential backoff.
func (b *Bridge) Run(ctx context.Context) error {
	backoff := b.backoffMin
	for {
		started := time.Now()
		err := b.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		b.markAll(ctx, false, err)
		if time.Since(started) > b.backoffMax {
			backoff = b.backoffMin
		}
		b.logger.Warn("realtime disconnected, retrying", "error", err, "in", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > b.backoffMax {
			backoff = b.backoffMax
		}
	}
}

func (b *Bridge) session(ctx context.Context) error {
	conn, _, err := b.dialer.DialContext(ctx, b.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	b.mu.Lock()
	b.conn = conn
	b.pending = make(map[string]string)
	b.joined = make(map[string]string)
	b.hbRef = ""
	subs := make([]Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	b.logger.Info("realtime connected", "channels", len(subs))

	done := make(chan struct{})
	defer func() {
		close(done)
		b.mu.Lock()
		b.conn = nil
		b.mu.Unlock()
		conn.Close()
	}()
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go b.heartbeatLoop(conn, done)

	for _, s := range subs {
		if err := b.join(ctx, s); err != nil {
			b.publish(ctx, SubscriptionStatus{topic: s.Topic, Healthy: false, Err: err})
		}
	}
	return b.readLoop(ctx, conn)
}

// heartbeatLoop closes conn when a heartbeat is still unacknowledged at the
// next tick, so a half-open connection ends the session and gets redialed.
func (b *Bridge) heartbeatLoop(conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(b.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			ref := b.nextRef()
			b.mu.Lock()
			missed := b.hbRef
			b.hbRef = ref
			b.mu.Unlock()
			if missed != "" {
				b.logger.Warn("heartbeat not acknowledged, reconnecting", "ref", missed)
				conn.Close()
				return
			}
			if err := b.sendRef("phoenix", "heartbeat", json.RawMessage(`{}`), ref, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (b *Bridge) readLoop(ctx context.Context, conn *websocket.Conn) error {
	readWait := 2 * b.heartbeat
	for {
		if readWait > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(readWait))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			b.logger.Warn("invalid realtime frame", "error", err)
			continue
		}
		b.handle(ctx, &msg)
	}
}

func (b *Bridge) handle(ctx context.Context, msg *message) {
	topic := strings.TrimPrefix(msg.Topic, "realtime:")
	switch msg.Event {
	case "phx_reply":
		if msg.Ref == nil {
			return
		}
		b.mu.Lock()
		if msg.Topic == "phoenix" && *msg.Ref == b.hbRef {
			b.hbRef = ""
			b.mu.Unlock()
			return
		}
		t, ok := b.pending[*msg.Ref]
		delete(b.pending, *msg.Ref)
		b.mu.Unlock()
		if !ok {
			return
		}
		var r replyPayload
		_ = json.Unmarshal(msg.Payload, &r)
		if r.Status == "ok" {
			b.publish(ctx, SubscriptionStatus{topic: t, Healthy: true})
			return
		}
		b.mu.Lock()
		delete(b.joined, t)
		b.mu.Unlock()
		b.logger.Warn("channel join rejected", "topic", t, "reason", r.Response.Reason)
		b.publish(ctx, SubscriptionStatus{topic: t, Err: fmt.Errorf("join rejected: %s", r.Response.Reason)})
	case "postgres_changes":
		ev, err := decodeChange(topic, msg.Payload)
		if err != nil {
			b.logger.Warn("dropping realtime change", "topic", topic, "error", err)
			return
		}
		b.publish(ctx, ev)
	case "system":
		var sys struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(msg.Payload, &sys)
		if sys.Status == "error" {
			b.publish(ctx, SubscriptionStatus{topic: topic, Err: errors.New(sys.Message)})
		}
	case "phx_error", "phx_close":
		b.mu.Lock()
		delete(b.joined, topic)
		_, wanted := b.subs[topic]
		b.mu.Unlock()
		if !wanted {
			return
		}
		b.publish(ctx, SubscriptionStatus{topic: topic, Err: fmt.Errorf("channel %s", strings.TrimPrefix(msg.Event, "phx_"))})
	}
}
