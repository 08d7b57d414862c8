package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/semaphore"
)

// ErrBusy means the launcher is already running its maximum number of
// concurrent pipeline runs.
var ErrBusy = errors.New("pipeline: max concurrent runs reached")

// Launcher caps concurrent background runs. Requests beyond the cap are
// rejected immediately rather than queued so callers can surface
// backpressure to the operator.
type Launcher struct {
	Runner Runner
	sem    *semaphore.Weighted
	log    *slog.Logger
}

func NewLauncher(runner Runner) *Launcher {
	max := runner.cfg().Pipeline.MaxConcurrentRuns
	if max <= 0 {
		max = 1
	}
	return &Launcher{
		Runner: runner,
		sem:    semaphore.NewWeighted(int64(max)),
		log:    runner.log(),
	}
}

// LaunchDaily starts a daily run in the background. It returns ErrBusy
// when all run slots are taken.
func (l *Launcher) LaunchDaily(ctx context.Context, maxNiches int) error {
	if !l.sem.TryAcquire(1) {
		return ErrBusy
	}
	go func() {
		defer l.sem.Release(1)
		// Detach from the request context so the run survives the
		// HTTP response that triggered it.
		if _, err := l.Runner.RunDaily(context.WithoutCancel(ctx), maxNiches); err != nil {
			l.log.Error("daily pipeline run failed", "err", err)
		}
	}()
	return nil
}

// LaunchOptimization starts an optimization pass in the background.
func (l *Launcher) LaunchOptimization(ctx context.Context) error {
	if !l.sem.TryAcquire(1) {
		return ErrBusy
	}
	go func() {
		defer l.sem.Release(1)
		if _, _, err := l.Runner.RunOptimization(context.WithoutCancel(ctx)); err != nil {
			l.log.Error("optimization run failed", "err", err)
		}
	}()
	return nil
}
