// Package scheduler triggers fetch cycles on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/socialdesk/internal/ingest"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Runner runs one fetch cycle over all channels.
type Runner interface {
	RunAll(ctx context.Context) ([]*ingest.CycleReport, error)
}

// Scheduler invokes a Runner on a cron schedule. A tick that fires while
// the previous cycle is still running is skipped, not queued.
type Scheduler struct {
	expr   string
	sched  cron.Schedule
	runner Runner
	// CycleTimeout bounds one triggered cycle; zero means no bound.
	CycleTimeout time.Duration
}

// New parses expr and returns a Scheduler for runner.
func New(expr string, runner Runner) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("scheduler: runner is required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("scheduler: parse %q: %w", expr, err)
	}
	return &Scheduler{expr: expr, sched: sched, runner: runner}, nil
}

// Next returns the next fire time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.sched.Next(t)
}

// Run starts the schedule and blocks until ctx is cancelled. The running
// cycle, if any, is allowed to finish before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := cronLogger{l: log.With().Str("component", "scheduler").Logger()}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.expr, func() { s.Tick(ctx) }); err != nil {
		return fmt.Errorf("scheduler: add job: %w", err)
	}

	log.Info().Str("schedule", s.expr).Time("next", s.Next(time.Now())).Msg("scheduler started")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	log.Info().Msg("scheduler stopped")
	return nil
}

// Tick runs one cycle immediately.
func (s *Scheduler) Tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if s.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.CycleTimeout)
		defer cancel()
	}
	start := time.Now()
	reports, err := s.runner.RunAll(ctx)
	imported := 0
	for _, r := range reports {
		imported += r.Imported
	}
	ev := log.Info()
	if err != nil {
		ev = log.Error().Err(err)
	}
	ev.Int("channels", len(reports)).Int("imported", imported).
		Dur("elapsed", time.Since(start)).Msg("fetch cycle complete")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
