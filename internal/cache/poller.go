package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Poller refetches registered queries on fixed intervals. Polling runs next to
// realtime push as the fallback path for consistency.
type Poller struct {
	c       *Cache
	sched   gocron.Scheduler
	timeout time.Duration
	logger  *slog.Logger
}

func NewPoller(c *Cache, logger *slog.Logger) (*Poller, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Poller{c: c, sched: s, timeout: 20 * time.Second, logger: logger.With("component", "poller")}, nil
}

// Every refetches, each interval, all registered queries under the prefixes.
func (p *Poller) Every(name string, interval time.Duration, prefixes ...string) error {
	_, err := p.sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { p.tick(name, prefixes) }),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	return err
}

func (p *Poller) tick(name string, prefixes []string) {
	for _, key := range p.c.Keys(prefixes...) {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		_, err := p.c.Refetch(ctx, key)
		cancel()
		if err != nil {
			p.logger.Debug("poll failed", "job", name, "key", key, "error", err)
		}
	}
}

func (p *Poller) Start() { p.sched.Start() }

func (p *Poller) Shutdown() error { return p.sched.Shutdown() }
