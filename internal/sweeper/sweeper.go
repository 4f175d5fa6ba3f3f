package sweeper

import (
	"context"
	"log/slog"
	"time"
)

const DefaultInterval = 60 * time.Second

// Reclaimer rolls back orders whose payment window has passed.
type Reclaimer interface {
	ReclaimExpired(ctx context.Context) (int, error)
}

// Locker elects a single replica to sweep per tick.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// NoopLocker always wins the election. Use it with a single replica.
type NoopLocker struct{}

func (NoopLocker) Acquire(context.Context) (bool, error) { return true, nil }

func (NoopLocker) Release(context.Context) error { return nil }

type Sweeper struct {
	reclaimer Reclaimer
	locker    Locker
	interval  time.Duration
	logger    *slog.Logger
}

func New(reclaimer Reclaimer, locker Locker, interval time.Duration, logger *slog.Logger) *Sweeper {
	if locker == nil {
		locker = NoopLocker{}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		reclaimer: reclaimer,
		locker:    locker,
		interval:  interval,
		logger:    logger,
	}
}

// Run sweeps every interval until ctx is done. The first sweep happens one
// interval after start.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("expiry sweeper started", slog.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and returns how many orders it reclaimed.
// Errors are logged; a failed sweep is retried on the next tick.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	acquired, err := s.locker.Acquire(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "acquire sweeper lock failed", slog.Any("error", err))
		return 0
	}
	if !acquired {
		s.logger.DebugContext(ctx, "another replica is sweeping")
		return 0
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.WarnContext(ctx, "release sweeper lock failed", slog.Any("error", err))
		}
	}()

	n, err := s.reclaimer.ReclaimExpired(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "expiry sweep finished with errors",
			slog.Int("reclaimed", n),
			slog.Any("error", err))
		return n
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "expired orders reclaimed", slog.Int("reclaimed", n))
	}
	return n
}
