package billing

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Scheduler runs the grace period enforcer on a fixed interval. The sweep
// is idempotent per run, so an overlapping manual trigger is harmless.
type Scheduler struct {
	enforcer *Enforcer
	interval time.Duration
	ticker   *time.Ticker
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewScheduler creates a sweep scheduler.
func NewScheduler(enforcer *Enforcer, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		enforcer: enforcer,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic sweeps.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	// Recreate the stop channel so the scheduler can be restarted.
	s.stopCh = make(chan struct{})
	s.running = true
	s.ticker = time.NewTicker(s.interval)

	log.Infof("[GraceSweep] Scheduler starting (interval=%s)", s.interval)
	s.wg.Add(1)
	go s.loop()
}

// Stop halts periodic sweeps and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	close(s.stopCh)
	s.ticker.Stop()
	s.running = false
	s.wg.Wait()
	log.Info("[GraceSweep] Scheduler stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.ticker.C:
			if _, err := s.enforcer.Run(context.Background()); err != nil {
				log.Errorf("[GraceSweep] Sweep failed: %v", err)
			}
		}
	}
}
