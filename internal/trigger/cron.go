package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CronTrigger fires the runner on a five-field cron schedule evaluated in loc.
type CronTrigger struct {
	runner   *Runner
	schedule string
	cron     *cron.Cron
	logger   *zap.Logger
	cancel   context.CancelFunc
}

func NewCronTrigger(runner *Runner, schedule string, loc *time.Location, logger *zap.Logger) *CronTrigger {
	if loc == nil {
		loc = time.UTC
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &CronTrigger{
		runner:   runner,
		schedule: schedule,
		cron:     cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
		logger:   logger,
	}
}

// Start registers the schedule and begins firing. Ticks run on ctx until Stop.
func (c *CronTrigger) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	_, err := c.cron.AddFunc(c.schedule, func() {
		if _, err := c.runner.Run(ctx, "cron"); err != nil && !errors.Is(err, ErrTickInProgress) {
			c.logger.Error("scheduled tick failed", zap.Error(err))
		}
	})
	if err != nil {
		c.cancel()
		return fmt.Errorf("invalid tick schedule %q: %w", c.schedule, err)
	}

	c.cron.Start()
	c.logger.Info("cron trigger started", zap.String("schedule", c.schedule))
	return nil
}

// Stop cancels the running tick's context and waits for it to return.
func (c *CronTrigger) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.cron.Stop().Done()
	c.logger.Info("cron trigger stopped")
}
