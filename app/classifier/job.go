package classifier

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Start schedules RunOnce on the configured interval and returns a stop
// func that waits for a running pass to finish
func (c *Classifier) Start(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)

	job := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(c.log)),
		cron.SkipIfStillRunning(cron.PrintfLogger(c.log)),
	))
	spec := fmt.Sprintf("@every %s", c.cfg.Interval)
	if _, err := job.AddFunc(spec, func() { c.RunOnce(ctx) }); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to schedule classifier: %w", err)
	}
	job.Start()
	c.log.WithField("interval", c.cfg.Interval.String()).Info("Classifier job started")

	return func() {
		cancel()
		<-job.Stop().Done()
		c.log.Info("Classifier job stopped")
	}, nil
}
