// Package scheduler owns the periodic timer that drives a character's
// daily-life loop. One cycle runs to completion before the next tick is
// honored; there are no overlapping cycles for the same character.
package scheduler

import (
	"context"
	"math/rand"
	"time"

	"github.com/mkarlin/pulse/internal/lifecycle"
	"github.com/mkarlin/pulse/internal/logging"
)

// CycleRunner is what the scheduler drives; *lifecycle.Runner satisfies it.
type CycleRunner interface {
	RunCycle(ctx context.Context) *lifecycle.CycleState
}

// Scheduler drives one CycleRunner on a fixed interval.
type Scheduler struct {
	runner   CycleRunner
	interval time.Duration

	stopChan chan struct{}
	doneChan chan struct{}
}

// New creates a scheduler. interval defaults to 7 minutes.
func New(runner CycleRunner, interval time.Duration) *Scheduler {
	if interval == 0 {
		interval = 7 * time.Minute
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the cycle loop in the background.
func (s *Scheduler) Start() {
	go s.loop()
	logging.Info("scheduler", "Started (every %s)", s.interval)
}

// Stop halts the loop. An in-flight cycle is cancelled cooperatively via
// its context; partial execution is an acceptable, already-logged outcome.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	<-s.doneChan
}

func (s *Scheduler) loop() {
	defer close(s.doneChan)

	// Jitter the first cycle so a fleet of characters restarting together
	// does not plan in lockstep.
	jitter := time.Duration(rand.Int63n(int64(s.interval / 4)))
	select {
	case <-s.stopChan:
		return
	case <-time.After(jitter):
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce()
	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.runOnce()
		}
	}
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.runner.RunCycle(ctx)
}
