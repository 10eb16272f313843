package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Ticker is what the scheduler drives.  *Settler satisfies it.
type Ticker interface {
	RunTick(ctx context.Context) (TickResult, error)
}

// Scheduler triggers settlement ticks on a fixed interval.  Runs never
// overlap within one process.
type Scheduler struct {
	settler  Ticker
	interval time.Duration
	shutdown chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewScheduler creates a scheduler running settler every interval.
func NewScheduler(settler Ticker, interval time.Duration) *Scheduler {
	return &Scheduler{
		settler:  settler,
		interval: interval,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins ticking in the background.
func (s *Scheduler) Start() {
	go s.loop()
}

// Stop signals the loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.shutdown) })
	<-s.done
}

func (s *Scheduler) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			res, err := s.settler.RunTick(context.Background())
			if err != nil {
				slog.Error("Settlement tick failed",
					slog.String("error", err.Error()))
				continue
			}
			slog.Debug("Settlement tick",
				slog.Int("orders", res.OrdersLoaded),
				slog.Duration("took", res.FinishedAt.Sub(res.StartedAt)))
		case <-s.shutdown:
			return
		}
	}
}
