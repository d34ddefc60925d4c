package backendtest

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

type rtFrame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref,omitempty"`
}

type rtChannel struct {
	event  string
	table  string
	column string
	value  string
}

type rtConn struct {
	ws       *websocket.Conn
	writeMu  sync.Mutex
	mu       sync.Mutex
	channels map[string]rtChannel // wire topic -> postgres_changes config
}

func (c *rtConn) write(f rtFrame) {
	data, _ := json.Marshal(f)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = c.ws.WriteMessage(websocket.TextMessage, data)
}

type realtimeHub struct {
	mu    sync.Mutex
	conns map[*rtConn]struct{}
}

func newRealtimeHub() *realtimeHub {
	return &realtimeHub{conns: make(map[*rtConn]struct{})}
}

func (h *realtimeHub) snapshot() []*rtConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*rtConn, 0, len(h.conns))
	for c := range h.conns {
		out = append(out, c)
	}
	return out
}

func (h *realtimeHub) count(topic string) int {
	n := 0
	for _, c := range h.snapshot() {
		c.mu.Lock()
		if _, ok := c.channels["realtime:"+topic]; ok {
			n++
		}
		c.mu.Unlock()
	}
	return n
}

func (h *realtimeHub) closeAll() {
	for _, c := range h.snapshot() {
		c.ws.Close()
	}
}

// DropRealtime closes every socket, as a server restart would.
func (s *Server) DropRealtime() { s.rt.closeAll() }

func (h *realtimeHub) publish(changes []change) {
	if len(changes) == 0 {
		return
	}
	for _, c := range h.snapshot() {
		c.mu.Lock()
		channels := make(map[string]rtChannel, len(c.channels))
		for k, v := range c.channels {
			channels[k] = v
		}
		c.mu.Unlock()
		for _, ch := range changes {
			for topic, sub := range channels {
				if sub.table != ch.table || (sub.event != "*" && sub.event != ch.typ) {
					continue
				}
				if sub.column != "" && str(ch.row[sub.column]) != sub.value {
					continue
				}
				payload, _ := json.Marshal(map[string]interface{}{
					"data": map[string]interface{}{
						"type":             ch.typ,
						"table":            ch.table,
						"schema":           "public",
						"record":           ch.row,
						"commit_timestamp": time.Now().UTC().Format(time.RFC3339Nano),
					},
				})
				c.write(rtFrame{Topic: topic, Event: "postgres_changes", Payload: payload})
			}
		}
	}
}

func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("apikey") != AnonKey {
		http.Error(w, "invalid apikey", http.StatusUnauthorized)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &rtConn{ws: ws, channels: make(map[string]rtChannel)}
	s.rt.mu.Lock()
	s.rt.conns[c] = struct{}{}
	s.rt.mu.Unlock()
	defer func() {
		s.rt.mu.Lock()
		delete(s.rt.conns, c)
		s.rt.mu.Unlock()
		ws.Close()
	}()

	for {
		var f rtFrame
		if err := ws.ReadJSON(&f); err != nil {
			return
		}
		s.mu.Lock()
		s.calls["realtime:"+f.Event]++
		s.mu.Unlock()
		switch f.Event {
		case "heartbeat":
			c.write(reply(f, "ok", nil))
		case "phx_join":
			s.join(c, f)
		case "phx_leave":
			c.mu.Lock()
			delete(c.channels, f.Topic)
			c.mu.Unlock()
			c.write(reply(f, "ok", nil))
			c.write(rtFrame{Topic: f.Topic, Event: "phx_close", Payload: json.RawMessage(`{}`), Ref: f.JoinRef})
		case "access_token":
		}
	}
}

func (s *Server) join(c *rtConn, f rtFrame) {
	var p struct {
		Config struct {
			PostgresChanges []struct {
				Event  string `json:"event"`
				Table  string `json:"table"`
				Filter string `json:"filter"`
			} `json:"postgres_changes"`
		} `json:"config"`
		AccessToken string `json:"access_token"`
	}
	_ = json.Unmarshal(f.Payload, &p)
	s.mu.Lock()
	rejectAll := s.RejectRealtime
	s.mu.Unlock()
	if rejectAll || len(p.Config.PostgresChanges) == 0 {
		c.write(reply(f, "error", map[string]string{"reason": "Unauthorized: You do not have permissions to read from this Channel topic"}))
		return
	}
	pc := p.Config.PostgresChanges[0]
	ch := rtChannel{event: pc.Event, table: pc.Table}
	if col, rest, ok := strings.Cut(pc.Filter, "="); ok {
		ch.column = col
		ch.value = strings.TrimPrefix(rest, "eq.")
	}
	c.mu.Lock()
	c.channels[f.Topic] = ch
	c.mu.Unlock()
	c.write(reply(f, "ok", map[string]interface{}{"postgres_changes": []map[string]interface{}{{"id": 1, "event": pc.Event, "table": pc.Table}}}))
}

func reply(f rtFrame, status string, response interface{}) rtFrame {
	if response == nil {
		response = map[string]string{}
	}
	payload, _ := json.Marshal(map[string]interface{}{"status": status, "response": response})
	return rtFrame{Topic: f.Topic, Event: "phx_reply", Payload: payload, Ref: f.Ref, JoinRef: f.JoinRef}
}
