package behave

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// RunFunc performs one suite run.
type RunFunc func(ctx context.Context) error

// RunScheduler triggers suite runs, once or at a fixed interval.
type RunScheduler interface {
	Start(ctx context.Context) error
	Stop() error
	RegisterCallback(RunFunc)
	WaitForShutdown(ctx context.Context) error
	Stopped() bool
}

// IntervalScheduler implements RunScheduler. The first run happens
// synchronously in Start so its result decides whether the service comes up;
// later runs happen in the background, never overlapping.
type IntervalScheduler struct {
	interval time.Duration
	runOnce  bool
	logger   log.Logger
	callback RunFunc

	running atomic.Bool
	runs    atomic.Int64
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewIntervalScheduler creates a scheduler. A zero interval means run-once.
func NewIntervalScheduler(interval time.Duration, logger log.Logger) *IntervalScheduler {
	return &IntervalScheduler{
		interval: interval,
		runOnce:  interval <= 0,
		logger:   logger.New("component", "scheduler"),
		done:     make(chan struct{}),
	}
}

// RegisterCallback registers the run to perform.
func (s *IntervalScheduler) RegisterCallback(callback RunFunc) {
	s.callback = callback
}

// Start performs the first run and, unless in run-once mode, schedules the
// following ones. An error from the first run is returned; errors of later
// runs are logged.
func (s *IntervalScheduler) Start(ctx context.Context) error {
	if s.callback == nil {
		return errors.New("callback must be registered before starting scheduler")
	}

	s.done = make(chan struct{})
	s.running.Store(true)

	if s.runOnce {
		s.logger.Info("Starting scheduler in run-once mode")
		return s.run(ctx)
	}

	s.logger.Info("Starting scheduler in continuous mode", "interval", s.interval)
	if err := s.run(ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(s.interval)
		defer timer.Stop()

		for {
			select {
			case <-timer.C:
				if !s.running.Load() {
					s.logger.Debug("Scheduler stopped, exiting periodic runner")
					return
				}
				s.logger.Info("Starting periodic run", "run", s.runs.Load()+1)
				if err := s.run(ctx); err != nil {
					s.logger.Error("Periodic run failed", "error", err)
				}
				s.logger.Info("Next run scheduled", "interval", s.interval)
				timer.Reset(s.interval)

			case <-s.done:
				s.logger.Debug("Done signal received, stopping periodic runner")
				return

			case <-ctx.Done():
				s.logger.Debug("Context canceled, stopping periodic runner")
				s.running.Store(false)
				return
			}
		}
	}()

	return nil
}

func (s *IntervalScheduler) run(ctx context.Context) error {
	s.runs.Add(1)
	return s.callback(ctx)
}

// Runs returns the number of runs started so far.
func (s *IntervalScheduler) Runs() int {
	return int(s.runs.Load())
}

// Stop prevents further runs. A run in progress is not interrupted.
func (s *IntervalScheduler) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		s.logger.Debug("Scheduler already stopped, nothing to do")
		return nil
	}
	close(s.done)
	return nil
}

// Stopped returns true if the scheduler is stopped.
func (s *IntervalScheduler) Stopped() bool {
	return !s.running.Load()
}

// WaitForShutdown blocks until the periodic runner has exited.
func (s *IntervalScheduler) WaitForShutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Debug("All goroutines terminated successfully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for goroutines to terminate", "error", ctx.Err())
		return ctx.Err()
	}
}
