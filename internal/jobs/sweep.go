// Package jobs runs periodic background work.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Sweeper expires idle sessions. services.SessionService implements it.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// SweepRecorder is notified of how many sessions each sweep expired.
type SweepRecorder interface {
	Swept(n int)
}

// Scheduler owns the gocron scheduler running the expiry sweep.
type Scheduler struct {
	sched  gocron.Scheduler
	ctx    context.Context
	cancel context.CancelFunc
}

// NewExpirySweep schedules sweeper every interval. Runs never overlap; a run
// still going when the next is due causes that tick to be skipped.
func NewExpirySweep(interval time.Duration, sweeper Sweeper, rec SweepRecorder, log *slog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("sweep interval must be positive")
	}
	if log == nil {
		log = slog.Default()
	}
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{sched: sched, ctx: ctx, cancel: cancel}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			runCtx, done := context.WithTimeout(s.ctx, interval)
			defer done()
			_, _ = RunOnce(runCtx, sweeper, rec, log)
		}),
		gocron.WithName("expire-idle-sessions"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		cancel()
		_ = sched.Shutdown()
		return nil, fmt.Errorf("failed to create sweep job: %w", err)
	}
	return s, nil
}

func (s *Scheduler) Start() { s.sched.Start() }

// Shutdown cancels a running sweep and waits for it to return.
func (s *Scheduler) Shutdown() error {
	s.cancel()
	return s.sched.Shutdown()
}

// RunOnce performs a single sweep, logging and recording the outcome.
func RunOnce(ctx context.Context, sweeper Sweeper, rec SweepRecorder, log *slog.Logger) (int, error) {
	if log == nil {
		log = slog.Default()
	}
	n, err := sweeper.SweepExpired(ctx)
	if rec != nil && n > 0 {
		rec.Swept(n)
	}
	if err != nil {
		log.Error("expiry sweep failed", "expired", n, "err", err)
		return n, err
	}
	if n > 0 {
		log.Info("expiry sweep", "expired", n)
	}
	return n, nil
}
