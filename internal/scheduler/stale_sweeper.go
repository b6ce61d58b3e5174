package scheduler

import (
	"context"
	"time"

	"ai-tutor-platform/internal/logger"
	"ai-tutor-platform/internal/telemetry"
	"ai-tutor-platform/utils"
)

const StaleSweepTag = "stale-ingestion-sweep"

// LeaseExpirer marks documents whose ingestion lease ran out as failed.
type LeaseExpirer interface {
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// StaleSweeper releases documents left in processing by a crashed attempt,
// so they can be ingested again.
type StaleSweeper struct {
	store   LeaseExpirer
	metrics *telemetry.Metrics
	now     func() time.Time
}

func NewStaleSweeper(store LeaseExpirer, metrics *telemetry.Metrics) *StaleSweeper {
	return &StaleSweeper{
		store:   store,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Sweep runs one pass and returns how many documents were released.
func (s *StaleSweeper) Sweep(ctx context.Context) (int64, error) {
	ctx, cancel := utils.WithLongTimeout(ctx)
	defer cancel()

	n, err := s.store.ExpireStale(ctx, s.now())
	if err != nil {
		logger.Error("stale ingestion sweep failed", "error", err)
		return 0, err
	}
	if n > 0 {
		logger.Warn("expired stale ingestion leases", "documents", n)
		s.metrics.RecordStaleLeases(ctx, n)
	}
	return n, nil
}

// Register adds the sweep to sched at the given interval.
func (s *StaleSweeper) Register(sched *Scheduler, every time.Duration) error {
	return sched.ScheduleInterval(StaleSweepTag, every, func() {
		_, _ = s.Sweep(context.Background())
	})
}
