/*
scheduler.go - Automated expiry sweeper

PURPOSE:
  Periodically writes off inventory lots whose expiry date has passed, so
  that FEFO consumption never hands out expired units.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Sweeps once immediately on start, then on every tick
  - Each sweep journals one "expired" movement per drained lot
  - A failed sweep is logged and retried on the next tick

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether the sweeper is active (default: true)

USAGE:
  sweeper := NewExpirySweeper(handler.Engine, logger)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - handlers.go: WriteOffExpired endpoint (manual sweep)
  - bloodbank/expiry.go: AllocationEngine.WriteOffExpired
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lifeline/bloodbank-engine/bloodbank"
)

// ExpiryWriter is the engine operation the sweeper drives.
type ExpiryWriter interface {
	WriteOffExpired(ctx context.Context, asOf time.Time) ([]bloodbank.WriteOff, error)
}

// ExpirySweeper writes off expired lots on a fixed interval.
type ExpirySweeper struct {
	Engine        ExpiryWriter
	Logger        *slog.Logger
	CheckInterval time.Duration
	Enabled       bool
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewExpirySweeper creates a new sweeper.
func NewExpirySweeper(engine ExpiryWriter, logger *slog.Logger) *ExpirySweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpirySweeper{
		Engine:        engine,
		Logger:        logger.With("component", "expiry_sweeper"),
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Now:           time.Now,
	}
}

// Start begins the sweeper. Calling Start twice is a no-op.
func (s *ExpirySweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.Logger.Info("started", "interval", s.CheckInterval.String())
}

// Stop stops the sweeper and waits for an in-flight sweep to finish.
func (s *ExpirySweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Logger.Info("stopped")
}

func (s *ExpirySweeper) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.Sweep(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-stop:
			return
		}
	}
}

// Sweep runs one write-off pass and returns what it drained.
func (s *ExpirySweeper) Sweep(ctx context.Context) []bloodbank.WriteOff {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	written, err := s.Engine.WriteOffExpired(ctx, now())
	if err != nil {
		s.Logger.ErrorContext(ctx, "sweep failed", "error", err, "written_off", len(written))
		return written
	}

	units := 0
	for _, w := range written {
		units += w.Units
		s.Logger.InfoContext(ctx, "lot written off",
			"lot_id", w.LotID,
			"blood_type", w.BloodType.String(),
			"location", w.Location,
			"units", w.Units,
			"expiry_date", w.ExpiryDate.Format(dateLayout),
		)
	}
	if len(written) > 0 {
		s.Logger.InfoContext(ctx, "sweep complete", "lots", len(written), "units", units)
	}
	return written
}
