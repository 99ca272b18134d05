// Package sweeper revisits ledger rows left unfinished by crashes or
// transport failures and hands them back to the transfer orchestrator.
package sweeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"ocstransfer/internal/config"
	"ocstransfer/internal/models"
	"ocstransfer/internal/repositories"
	"ocstransfer/internal/services/transfer"
)

const cycleLockKey = "sweeper:cycle"

// Transfers is the part of the orchestrator the sweeper drives.
type Transfers interface {
	Resume(ctx context.Context, id uint) (transfer.TransferOutcome, error)
	ExtendExpiry(ctx context.Context, id uint) error
}

// Report counts what one cycle did.
type Report struct {
	Scanned   int
	Settled   int
	Escalated int
	Pending   int
	Skipped   int
	Failed    int
	Extended  int
	// Overlapped is set when another cycle held the lock and nothing ran.
	Overlapped bool
}

// MetricsCollector receives one report per cycle.
type MetricsCollector interface {
	RecordSweep(r Report, d time.Duration)
}

type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordSweep(Report, time.Duration) {}

// Dependencies of a Sweeper. Metrics is optional.
type Dependencies struct {
	Ledger    repositories.TransferRepository
	Transfers Transfers
	Config    transfer.ConfigSource
	Locker    transfer.Locker
	Metrics   MetricsCollector
}

type Sweeper struct {
	ledger    repositories.TransferRepository
	transfers Transfers
	config    transfer.ConfigSource
	locker    transfer.Locker
	metrics   MetricsCollector
	cfg       config.SweeperConfig
	clock     func() time.Time

	mu       sync.Mutex
	running  bool
	done     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a Sweeper. Zero durations and sizes in cfg take defaults.
func New(deps Dependencies, cfg config.SweeperConfig) *Sweeper {
	if deps.Ledger == nil {
		panic("ledger is required")
	}
	if deps.Transfers == nil {
		panic("transfer service is required")
	}
	if deps.Config == nil {
		panic("config source is required")
	}
	if deps.Locker == nil {
		panic("locker is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = NoopMetricsCollector{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Sweeper{
		ledger:    deps.Ledger,
		transfers: deps.Transfers,
		config:    deps.Config,
		locker:    deps.Locker,
		metrics:   deps.Metrics,
		cfg:       cfg,
		clock:     func() time.Time { return time.Now().UTC() },
		stop:      make(chan struct{}),
	}
}

// Run sweeps once immediately and then on every interval until ctx is done
// or Stop is called. It blocks.
func (s *Sweeper) Run(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
	}()

	log.Infow("sweeper started", "interval", s.cfg.Interval.String(), "grace_period", s.cfg.GracePeriod.String())
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		s.cycle(ctx)
		select {
		case <-ctx.Done():
			log.Infow("sweeper stopped", "reason", ctx.Err())
			return
		case <-s.stop:
			log.Infow("sweeper stopped", "reason", "stop requested")
			return
		case <-ticker.C:
		}
	}
}

// Stop signals Run to return and waits for the cycle in progress to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *Sweeper) cycle(ctx context.Context) {
	if _, err := s.SweepOnce(ctx); err != nil {
		log.Errorw("sweep cycle failed", "error", err)
	}
}

func (s *Sweeper) stopping(ctx context.Context) bool {
	select {
	case <-s.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// SweepOnce runs a single time-boxed cycle. Only one cycle runs at a time
// across all instances sharing the locker.
func (s *Sweeper) SweepOnce(ctx context.Context) (Report, error) {
	var r Report
	start := s.clock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	release, ok, err := s.locker.TryLock(ctx, cycleLockKey, s.cfg.Timeout)
	if err != nil {
		return r, err
	}
	if !ok {
		r.Overlapped = true
		return r, nil
	}
	defer release()
	defer func() { s.metrics.RecordSweep(r, s.clock().Sub(start)) }()

	settings, err := transfer.LoadSettings(ctx, s.config)
	if err != nil {
		return r, err
	}
	cutoff := start.Add(-s.cfg.GracePeriod)

	rows, err := s.ledger.ListIncomplete(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return r, err
	}
	for _, row := range rows {
		if s.stopping(ctx) {
			break
		}
		r.Scanned++
		s.resume(ctx, row, &r)
	}

	expiring, err := s.ledger.ListPendingExpiry(ctx, cutoff, settings.MaxRetries, s.cfg.BatchSize)
	if err != nil {
		return r, err
	}
	for _, row := range expiring {
		if s.stopping(ctx) {
			break
		}
		err := s.transfers.ExtendExpiry(ctx, row.ID)
		switch {
		case errors.Is(err, repositories.ErrClaimHeld):
			r.Skipped++
		case err != nil:
			r.Failed++
			log.Warnw("expiry retry failed", "transaction_id", row.ID, "error", err)
		default:
			r.Extended++
		}
	}

	if r.Scanned > 0 || r.Extended > 0 || r.Failed > 0 {
		log.Infow("sweep cycle finished", "scanned", r.Scanned, "settled", r.Settled, "escalated", r.Escalated,
			"pending", r.Pending, "skipped", r.Skipped, "failed", r.Failed, "expiry_retries", r.Extended)
	}
	return r, nil
}

func (s *Sweeper) resume(ctx context.Context, row models.TransferTransaction, r *Report) {
	out, err := s.transfers.Resume(ctx, row.ID)
	switch {
	case errors.Is(err, repositories.ErrClaimHeld):
		r.Skipped++
	case err != nil:
		r.Failed++
		log.Errorw("sweeper could not resume transfer", "transaction_id", row.ID, "error", err)
	case out.Status == models.StatusTransferFailed:
		r.Escalated++
		log.Errorw("transfer needs manual resolution", "transaction_id", row.ID, "code", out.StatusCode)
	case out.Status.Settled():
		r.Settled++
	default:
		r.Pending++
	}
}
