package processor

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler drains the request queue on a fixed interval.
type Scheduler struct {
	processor *Processor
	logger    *slog.Logger
	interval  time.Duration
	stop      chan struct{}
	stopped   chan struct{}
}

// NewScheduler creates a drain scheduler. It does not start draining
// until Start is called.
func NewScheduler(processor *Processor, logger *slog.Logger, interval time.Duration) *Scheduler {
	return &Scheduler{
		processor: processor,
		logger:    logger,
		interval:  interval,
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Start begins the drain loop. This should be called in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.stopped)

	s.logger.Info("drain scheduler started", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start
	s.drain(ctx)

	for {
		select {
		case <-ticker.C:
			s.drain(ctx)
		case <-s.stop:
			s.logger.Info("drain scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.Info("drain scheduler context cancelled")
			return
		}
	}
}

// Stop signals the scheduler to stop and waits for the loop to finish.
// The in-flight drain, if any, runs to completion first.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.stopped
}

func (s *Scheduler) drain(ctx context.Context) {
	result, err := s.processor.Drain(ctx)
	if err != nil {
		s.logger.Error("scheduled drain failed", "error", err)
		return
	}
	if result.Claimed > 0 {
		s.logger.Info("scheduled drain finished",
			"claimed", result.Claimed,
			"completed", result.Completed,
			"failed", result.Failed,
			"reclaimed", result.Reclaimed,
		)
	}
}
