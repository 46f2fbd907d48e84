package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// runner schedules interval jobs. A job still running when its next tick fires
// is skipped, so one tick always completes before the next begins.
type runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context
	entries map[string]cron.EntryID
	wg      sync.WaitGroup
}

func newRunner(baseCtx context.Context, logger *zap.Logger) *runner {
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	return &runner{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		logger:  logger,
		baseCtx: baseCtx,
		entries: make(map[string]cron.EntryID),
	}
}

func (r *runner) every(name string, interval time.Duration, job func(context.Context)) error {
	if interval <= 0 {
		return fmt.Errorf("%s interval must be positive", name)
	}
	id, err := r.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if r.baseCtx.Err() != nil {
			return
		}
		job(r.baseCtx)
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	r.entries[name] = id
	r.logger.Info("job scheduled", zap.String("job", name), zap.Duration("interval", interval))
	return nil
}

// trigger runs a scheduled job now, through the same skip-if-running guard.
func (r *runner) trigger(name string) {
	id, ok := r.entries[name]
	if !ok {
		return
	}
	entry := r.cron.Entry(id)
	if entry.WrappedJob == nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		entry.WrappedJob.Run()
	}()
}

func (r *runner) start() {
	r.logger.Info("cron started")
	r.cron.Start()
}

func (r *runner) stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.wg.Wait()
	r.logger.Info("cron stopped")
}
