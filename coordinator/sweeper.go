package coordinator

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// DomainSource is the externally-owned membership predicate spec §1 leaves
// unspecified ("persistence format of application-level 'which domains are
// configured' data; the core only reads a membership predicate"). The
// Sweeper asks it, each tick, which domains it should consider for renewal.
type DomainSource interface {
	Domains(ctx context.Context) ([]string, error)
}

// Sweeper drives renewal on a schedule: every Interval it lists domains
// from Source and calls AcquireCert for each, relying on the coordinator
// itself to decide whether a renewal is actually due (spec §4.6 renewal
// policy: "Trigger: validTo - now < RENEW_WINDOW"). Adapted from the
// teacher's ticker + context-cancellation daemon idiom, with an errgroup
// bounding per-tick concurrency instead of an unbounded goroutine fan-out.
type Sweeper struct {
	coordinator *Coordinator
	source      DomainSource
	interval    time.Duration
	concurrency int
	logger      *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper returns a Sweeper. concurrency bounds how many domains are
// renewed at once per tick; it defaults to 4 if <= 0.
func NewSweeper(c *Coordinator, source DomainSource, interval time.Duration, concurrency int, logger *slog.Logger) *Sweeper {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{coordinator: c, source: source, interval: interval, concurrency: concurrency, logger: logger}
}

// Name identifies the sweeper in logs and in a server's daemon list
// (mirrors the teacher's server.Daemon contract: "Name() string").
func (s *Sweeper) Name() string { return "cert-sweeper" }

// Start begins the sweep loop in a background goroutine. Call Stop to shut
// it down.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop cancels the sweep loop and waits for the in-flight tick to finish or
// ctx to expire, whichever comes first.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	domains, err := s.source.Domains(ctx)
	if err != nil {
		s.logger.Error("sweeper: failed to list domains", "error", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, d := range domains {
		domainName := d
		g.Go(func() error {
			if _, err := s.coordinator.AcquireCert(gctx, domainName); err != nil {
				s.logger.Error("sweeper: renewal check failed", "domain", domainName, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
