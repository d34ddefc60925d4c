// Package backendtest runs an in-process stand-in for the hosted backend:
// REST tables, remote procedures with a serialized ledger, auth, edge
// functions, both payment providers, the rankings API and the realtime socket.
package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	AnonKey = "anon-test-key"
	Secret  = "backendtest-jwt-secret"
)

// Row is one record of a table.
type Row map[string]interface{}

type user struct {
	id       string
	email    string
	password string
	meta     map[string]interface{}
	appMeta  map[string]interface{}
	factors  []map[string]string
}

type failure struct {
	status  int
	code    string
	message string
}

type gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

type change struct {
	table string
	typ   string
	row   Row
}

type Server struct {
	*httptest.Server

	// FeePercent is the platform fee applied at settlement.
	FeePercent int64
	// NextRoomCode, when set, is used for the next created match.
	NextRoomCode string
	// DeclineCards makes card confirmations fail.
	DeclineCards bool
	// RejectRealtime makes channel joins fail.
	RejectRealtime bool
	// TokenTTL is the lifetime of issued access tokens.
	TokenTTL time.Duration

	mu        sync.Mutex
	tables    map[string][]Row
	users     map[string]*user // by id
	refresh   map[string]string
	authCodes map[string]string
	intents   map[string]Row
	orders    map[string]Row
	failures  map[string][]failure
	gates     map[string]*gate
	calls     map[string]int
	recovered []string
	outbox    []change
	seq       int

	rt *realtimeHub
}

func New(t testing.TB) *Server {
	s := &Server{
		FeePercent: 5,
		TokenTTL:   time.Hour,
		tables:     make(map[string][]Row),
		users:      make(map[string]*user),
		refresh:    make(map[string]string),
		authCodes:  make(map[string]string),
		intents:    make(map[string]Row),
		orders:     make(map[string]Row),
		failures:   make(map[string][]failure),
		gates:      make(map[string]*gate),
		calls:      make(map[string]int),
		rt:         newRealtimeHub(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/", s.handleAuth)
	mux.HandleFunc("/rest/v1/rpc/", s.handleRPC)
	mux.HandleFunc("/rest/v1/", s.handleREST)
	mux.HandleFunc("/functions/v1/", s.handleFunction)
	mux.HandleFunc("/realtime/v1/websocket", s.handleRealtime)
	mux.HandleFunc("/v1/payment_intents/", s.handleCardIntent)
	mux.HandleFunc("/v1/oauth2/token", s.handleHostedToken)
	mux.HandleFunc("/v2/checkout/orders/", s.handleHostedOrder)
	mux.HandleFunc("/rankings", s.handleRankings)
	mux.HandleFunc("/rankings/me", s.handleMyRanking)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(func() {
		s.rt.closeAll()
		s.Server.Close()
	})
	return s
}

// AddUser creates an auth user with a profile and a wallet holding balanceCents.
func (s *Server) AddUser(email, password string, balanceCents int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	username := strings.Split(email, "@")[0]
	s.users[id] = &user{
		id: id, email: email, password: password,
		meta:    map[string]interface{}{"username": username},
		appMeta: map[string]interface{}{"provider": "email"},
	}
	now := time.Now().UTC()
	s.tables["profiles"] = append(s.tables["profiles"], Row{"id": id, "username": username, "reputation": int64(100)})
	s.tables["wallets"] = append(s.tables["wallets"], Row{
		"id": uuid.NewString(), "user_id": id, "balance_cents": balanceCents, "currency": "usd", "updated_at": now,
	})
	return id
}

// MakeAdmin grants the admin role through app metadata.
func (s *Server) MakeAdmin(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID].appMeta["role"] = "admin"
}

// AccessToken signs a token for userID valid for ttl.
func (s *Server) AccessToken(userID string, ttl time.Duration) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signLocked(userID, ttl)
}

func (s *Server) signLocked(userID string, ttl time.Duration) string {
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": "authenticated",
		"aal":  "aal1",
		"exp":  time.Now().Add(ttl).Unix(),
		"iat":  time.Now().Unix(),
	}
	if u := s.users[userID]; u != nil {
		claims["email"] = u.email
		claims["user_metadata"] = u.meta
		claims["app_metadata"] = u.appMeta
		for _, f := range u.factors {
			if f["status"] == "verified" {
				claims["aal"] = "aal2"
			}
		}
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(Secret))
	if err != nil {
		panic(err)
	}
	return tok
}

// IssueAuthCode registers an OAuth authorization code for userID.
func (s *Server) IssueAuthCode(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := uuid.NewString()
	s.authCodes[code] = userID
	return code
}

// FailNext makes the next call of name (procedure, function or "table:<name>")
// answer with the given error.
func (s *Server) FailNext(name string, status int, code, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[name] = append(s.failures[name], failure{status: status, code: code, message: message})
}

// Gate holds calls of name until release is called. entered is closed when the
// first call arrives.
func (s *Server) Gate(name string) (entered <-chan struct{}, release func()) {
	g := &gate{entered: make(chan struct{}), release: make(chan struct{})}
	s.mu.Lock()
	s.gates[name] = g
	s.mu.Unlock()
	var once sync.Once
	return g.entered, func() { once.Do(func() { close(g.release) }) }
}

// Calls counts invocations of name.
func (s *Server) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *Server) Balance(userID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w := s.walletLocked(userID); w != nil {
		return num(w["balance_cents"])
	}
	return 0
}

// SetBalance overwrites a wallet and publishes the change like a server-side payout.
func (s *Server) SetBalance(userID string, cents int64) {
	s.mu.Lock()
	w := s.walletLocked(userID)
	w["balance_cents"] = cents
	w["updated_at"] = time.Now().UTC()
	s.emitLocked("wallets", "UPDATE", w)
	out := s.drainLocked()
	s.mu.Unlock()
	s.rt.publish(out)
}

// Insert adds a row and publishes it, e.g. a notification created server-side.
func (s *Server) Insert(table string, row Row) Row {
	s.mu.Lock()
	r := s.insertLocked(table, row)
	out := s.drainLocked()
	s.mu.Unlock()
	s.rt.publish(out)
	return copyRow(r)
}

func (s *Server) Match(id string) Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.tables["matches"] {
		if r["id"] == id {
			return copyRow(r)
		}
	}
	return nil
}

func (s *Server) Rows(table string) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Row, 0, len(s.tables[table]))
	for _, r := range s.tables[table] {
		out = append(out, copyRow(r))
	}
	return out
}

func (s *Server) Recovered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.recovered...)
}

// RealtimeClients reports how many sockets are joined to topic.
func (s *Server) RealtimeClients(topic string) int { return s.rt.count(topic) }

func (s *Server) walletLocked(userID string) Row {
	for _, w := range s.tables["wallets"] {
		if w["user_id"] == userID {
			return w
		}
	}
	return nil
}

func (s *Server) insertLocked(table string, row Row) Row {
	r := copyRow(row)
	if _, ok := r["id"]; !ok {
		r["id"] = uuid.NewString()
	}
	if _, ok := r["created_at"]; !ok {
		r["created_at"] = time.Now().UTC()
	}
	s.tables[table] = append(s.tables[table], r)
	s.emitLocked(table, "INSERT", r)
	return r
}

func (s *Server) emitLocked(table, typ string, row Row) {
	s.outbox = append(s.outbox, change{table: table, typ: typ, row: copyRow(row)})
}

func (s *Server) drainLocked() []change {
	out := s.outbox
	s.outbox = nil
	return out
}

// enter applies gates, failure injection and call counting for name.
func (s *Server) enter(name string) *failure {
	s.mu.Lock()
	s.calls[name]++
	g := s.gates[name]
	var f *failure
	if q := s.failures[name]; len(q) > 0 {
		f = &q[0]
		s.failures[name] = q[1:]
	}
	s.mu.Unlock()
	if g != nil {
		g.once.Do(func() { close(g.entered) })
		<-g.release
	}
	return f
}

// caller resolves the bearer token to a user id; "" is the anon role.
func (s *Server) caller(r *http.Request) (string, bool) {
	tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if tok == "" || tok == AnonKey {
		return "", true
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(Secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", false
	}
	sub, _ := claims["sub"].(string)
	return sub, true
}

func (s *Server) isAdmin(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[userID]
	return u != nil && u.appMeta["role"] == "admin"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}

func (f *failure) write(w http.ResponseWriter) {
	writeErr(w, f.status, f.code, f.message)
}

func copyRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func num(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}

func str(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}
