// Package trigger starts scheduler ticks: on a cron schedule, from an SQS
// queue, or on demand over HTTP. Every source goes through one Runner.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/zenpush/internal/metrics"
	"github.com/lalithlochan/zenpush/internal/worker"
)

// ErrTickInProgress is returned when another tick holds the guard.
var ErrTickInProgress = errors.New("tick already in progress")

const lockName = "reminders"

// Ticker runs one evaluation of the reminder schedule.
type Ticker interface {
	RunTick(ctx context.Context) (*worker.Result, error)
}

// Locker is a lock shared across replicas. Acquire returns ok=false when
// another holder has it.
type Locker interface {
	Acquire(ctx context.Context, name string) (func(context.Context) error, bool, error)
}

// Runner serializes ticks. In-process overlap is rejected with TryLock; when a
// Locker is configured, overlap across replicas is rejected as well.
type Runner struct {
	mu     sync.Mutex
	ticker Ticker
	locker Locker
	logger *zap.Logger
}

// NewRunner creates a runner. locker may be nil.
func NewRunner(ticker Ticker, locker Locker, logger *zap.Logger) *Runner {
	return &Runner{ticker: ticker, locker: locker, logger: logger}
}

// Run executes one tick on behalf of source ("cron", "sqs", "http").
func (r *Runner) Run(ctx context.Context, source string) (*worker.Result, error) {
	start := time.Now()
	log := r.logger.With(zap.String("trigger", source))

	if !r.mu.TryLock() {
		log.Warn("tick still running, skipping")
		metrics.RecordTick(source, "skipped", time.Since(start))
		return nil, ErrTickInProgress
	}
	defer r.mu.Unlock()

	if r.locker != nil {
		release, ok, err := r.locker.Acquire(ctx, lockName)
		switch {
		case err != nil:
			// Job idempotency still holds without the lock.
			log.Warn("distributed tick lock unavailable, continuing without it", zap.Error(err))
		case !ok:
			log.Info("tick running on another replica, skipping")
			metrics.RecordTick(source, "skipped", time.Since(start))
			return nil, ErrTickInProgress
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					log.Warn("failed to release tick lock", zap.Error(err))
				}
			}()
		}
	}

	res, err := r.ticker.RunTick(ctx)
	if err != nil {
		metrics.RecordTick(source, "error", time.Since(start))
		log.Error("tick failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return res, fmt.Errorf("run tick: %w", err)
	}

	metrics.RecordTick(source, "ok", time.Since(start))
	log.Debug("tick finished", zap.Duration("duration", time.Since(start)))
	return res, nil
}
