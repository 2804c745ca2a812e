// Package scheduler runs periodic maintenance jobs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// FeedbackPruner deletes feedback beyond the newest keepPerUser rows per
// user. repository.FeedbackRepository satisfies it.
type FeedbackPruner interface {
	PruneFeedback(ctx context.Context, keepPerUser int) (int64, error)
}

// Scheduler wraps a cron runner. Jobs run one at a time; a run that is
// still going when its next tick fires is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger{logger}),
			cron.SkipIfStillRunning(cronLogger{logger}),
		)),
		logger: logger,
	}
}

// Retention returns the feedback retention job.
func Retention(pruner FeedbackPruner, keepPerUser int, timeout time.Duration, logger *slog.Logger) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		start := time.Now()
		deleted, err := pruner.PruneFeedback(ctx, keepPerUser)
		if err != nil {
			logger.Error("feedback retention failed", slog.String("error", err.Error()))
			return
		}
		logger.Info("feedback retention done",
			slog.Int64("deleted", deleted),
			slog.Int("keep_per_user", keepPerUser),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

// Add registers job under name with a standard cron spec or a descriptor
// such as "@daily" or "@every 6h".
func (s *Scheduler) Add(name, spec string, job func()) error {
	if _, err := s.cron.AddFunc(spec, job); err != nil {
		return fmt.Errorf("scheduler: adding %s (%q): %w", name, spec, err)
	}
	s.logger.Info("job scheduled", slog.String("job", name), slog.String("spec", spec))
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for a running job until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: stopping: %w", ctx.Err())
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}
