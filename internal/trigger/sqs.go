package trigger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/zenpush/internal/sqs"
)

// Queue is the tick request source consumed by SQSTrigger.
type Queue interface {
	Receive(ctx context.Context) (*sqs.TickRequest, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// SQSTrigger runs a tick for every queued request. A request is deleted only
// after its tick succeeds; otherwise it becomes visible again and is redelivered.
type SQSTrigger struct {
	runner  *Runner
	queue   Queue
	logger  *zap.Logger
	backoff time.Duration
}

func NewSQSTrigger(runner *Runner, queue Queue, logger *zap.Logger) *SQSTrigger {
	return &SQSTrigger{runner: runner, queue: queue, logger: logger, backoff: 5 * time.Second}
}

// Run polls until ctx is cancelled.
func (s *SQSTrigger) Run(ctx context.Context) {
	s.logger.Info("sqs trigger started")
	for {
		if ctx.Err() != nil {
			s.logger.Info("sqs trigger stopping")
			return
		}
		if err := s.poll(ctx); err != nil {
			s.logger.Error("sqs poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(s.backoff):
			}
		}
	}
}

func (s *SQSTrigger) poll(ctx context.Context) error {
	req, err := s.queue.Receive(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if req == nil {
		return nil
	}

	log := s.logger.With(zap.String("message_id", req.MessageID))
	if !req.RequestedAt.IsZero() {
		log = log.With(zap.Duration("queue_lag", time.Since(req.RequestedAt)))
	}

	if _, err := s.runner.Run(ctx, "sqs"); err != nil {
		log.Warn("tick request not served, leaving it for redelivery", zap.Error(err))
		return nil
	}

	if err := s.queue.Delete(context.WithoutCancel(ctx), req.ReceiptHandle); err != nil {
		log.Error("failed to delete served tick request", zap.Error(err))
		return nil
	}
	log.Debug("tick request served")
	return nil
}
