package checkup

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const sweepLockKey = "checkup-missed-sweep"

// Locker is a cross-process try-lock. The sweep uses it so only one replica
// runs the batch update per interval.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// SweepObserver is told the outcome of every sweep that reached the update.
type SweepObserver interface {
	SweepFinished(marked int64, err error)
}

type SweepConfig struct {
	CutoffHour int
	Interval   time.Duration
	Location   *time.Location
}

// Sweeper marks today's still-upcoming checkups as missed once the clinic
// day is over.
type Sweeper struct {
	repo     Repository
	locker   Locker
	observer SweepObserver
	cfg      SweepConfig
	logger   zerolog.Logger
	now      func() time.Time
}

func NewSweeper(repo Repository, cfg SweepConfig, logger zerolog.Logger) *Sweeper {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	return &Sweeper{
		repo:   repo,
		cfg:    cfg,
		logger: logger.With().Str("component", "checkup-sweep").Logger(),
		now:    time.Now,
	}
}

// WithLocker sets the lock used to keep replicas from sweeping concurrently.
func (s *Sweeper) WithLocker(l Locker) *Sweeper {
	s.locker = l
	return s
}

func (s *Sweeper) WithObserver(o SweepObserver) *Sweeper {
	s.observer = o
	return s
}

// RunOnce applies the sweep if the local time is at or past the cutoff and
// returns how many checkups were marked missed. Running it again the same
// day changes nothing.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	now := s.now().In(s.cfg.Location)
	if now.Hour() < s.cfg.CutoffHour {
		return 0, nil
	}

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.cfg.Interval)
		switch {
		case err != nil:
			// The update is idempotent, so sweep anyway.
			s.logger.Warn().Err(err).Msg("sweep lock unavailable")
		case !ok:
			s.logger.Debug().Msg("sweep already running elsewhere")
			return 0, nil
		default:
			defer release()
		}
	}

	n, err := s.repo.MarkOverdueMissed(ctx, dateOnly(now), now, AutoMissedReason)
	if s.observer != nil {
		s.observer.SweepFinished(n, err)
	}
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int64("count", n).Str("date", now.Format(dateLayout)).Msg("marked overdue checkups as missed")
	}
	return n, nil
}

// Start runs the sweep immediately and then every interval. It blocks until
// ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error().Err(err).Msg("checkup sweep failed")
	}
}
