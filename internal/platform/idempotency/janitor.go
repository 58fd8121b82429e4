package idempotency

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Janitor periodically deletes expired records.
type Janitor struct {
	store     Store
	interval  time.Duration
	batchSize int
	clock     func() time.Time
	logger    *zap.Logger
}

// NewJanitor returns a janitor; non-positive interval or batch size fall back to defaults.
func NewJanitor(store Store, interval time.Duration, batchSize int, logger *zap.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{store: store, interval: interval, batchSize: batchSize, clock: time.Now, logger: logger}
}

// Run blocks until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep deletes expired records batch by batch until a batch comes back short.
func (j *Janitor) Sweep(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		removed, err := j.store.CleanupExpired(ctx, j.clock(), j.batchSize)
		if err != nil {
			j.logger.Warn("idempotency cleanup failed", zap.Error(err))
			return total
		}
		total += removed
		if removed < j.batchSize {
			break
		}
	}
	if total > 0 {
		j.logger.Info("idempotency cleanup", zap.Int("removed", total))
	}
	return total
}
