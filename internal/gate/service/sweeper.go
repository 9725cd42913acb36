package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gymgate/agent/internal/gate/device"
)

// Sweeper periodically re-runs the expiry block pass.  It runs as a
// background goroutine and is safe to stop via its context or the Stop
// method.
//
// Each sweep dials its own short-lived device session: the ingestion
// engine owns its session exclusively and must never be shared.
//
// An interval of 0 disables sweeping entirely.
type Sweeper struct {
	blocker  *AutoBlocker
	dialer   device.Dialer
	interval time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// SweeperConfig holds the parameters for NewSweeper.
type SweeperConfig struct {
	// Interval is how often the sweep runs.  0 disables the sweeper.
	Interval time.Duration
}

// NewSweeper creates a sweeper but does not start it.  Call Start to
// begin the background loop.
func NewSweeper(blocker *AutoBlocker, dialer device.Dialer, cfg SweeperConfig, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		blocker:  blocker,
		dialer:   dialer,
		interval: cfg.Interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins the background sweep loop.  The loop exits when ctx is
// cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("expiry sweeper disabled (interval=0)")
		close(s.done)
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)

	go s.loop(ctx)

	s.logger.Info("expiry sweeper started",
		zap.Duration("interval", s.interval))
}

// Stop signals the sweeper to exit and waits for it to finish.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	sess, err := s.dialer.Connect(ctx)
	if err != nil {
		s.logger.Warn("sweep skipped, device unreachable", zap.Error(err))
		return
	}
	defer sess.Close()

	blocked, err := s.blocker.CheckAndBlockExpiredDaily(ctx, sess)
	if err != nil {
		s.logger.Error("sweep failed", zap.Error(err))
		return
	}
	if blocked > 0 {
		s.logger.Info("sweep blocked expired members", zap.Int("blocked", blocked))
	}
}
