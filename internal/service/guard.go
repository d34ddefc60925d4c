package service

import (
	"context"
	"sync"
	"time"

	"fgcmatch/internal/auth"
	"fgcmatch/internal/domain"
)

// Identity is the part of the session provider the services need.
type Identity interface {
	Require() (*auth.Session, error)
}

// inflight rejects a second submission of the same operation on the same
// entity while the first is still running.
type inflight struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

func newInflight() *inflight {
	return &inflight{busy: make(map[string]struct{})}
}

func (g *inflight) acquire(op, id string) (func(), error) {
	key := op + ":" + id
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.busy[key]; ok {
		return nil, domain.E(domain.ErrRequestInFlight, op, "a request for this item is already in progress")
	}
	g.busy[key] = struct{}{}
	return func() {
		g.mu.Lock()
		delete(g.busy, key)
		g.mu.Unlock()
	}, nil
}

func (g *inflight) active(op, id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.busy[op+":"+id]
	return ok
}

// mutationContext detaches a write from the caller: once submitted it runs to
// completion or until wait elapses, even if the UI request goes away.
func mutationContext(ctx context.Context, wait time.Duration) (context.Context, context.CancelFunc) {
	if wait <= 0 {
		wait = 30 * time.Second
	}
	return context.WithTimeout(context.WithoutCancel(ctx), wait)
}

func requireUser(id Identity, op string) (*auth.Session, error) {
	s, err := id.Require()
	if err != nil {
		return nil, domain.E(domain.ErrAuthenticationRequired, op, domain.Message(err))
	}
	return s, nil
}
