package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"listing_tracker/config"
)

// Runner performs one tracking run.
type Runner interface {
	Run(ctx context.Context) error
}

// ErrRunInProgress is returned by TriggerNow while a run is still going.
var ErrRunInProgress = errors.New("run already in progress")

type Scheduler struct {
	cfg     config.SchedulerConfig
	runner  Runner
	cron    *cron.Cron
	ticker  *time.Ticker
	stopCh  chan struct{}
	stop    sync.Once
	running atomic.Bool
	wg      sync.WaitGroup
}

func New(cfg config.SchedulerConfig, runner Runner) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		runner: runner,
		cron:   cron.New(),
		stopCh: make(chan struct{}),
	}
}

// Start schedules runs by cron expression, or else by fixed interval. It
// returns an error when neither is configured.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Cron != "" {
		log.Printf("Starting scheduler with cron: %s", s.cfg.Cron)
		_, err := s.cron.AddFunc(s.cfg.Cron, func() {
			s.runGuarded(ctx)
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
		return nil
	}

	if s.cfg.Interval <= 0 {
		return fmt.Errorf("no schedule configured: set SCRAPE_CRON or SCRAPE_INTERVAL")
	}

	log.Printf("Starting scheduler with interval: %s", s.cfg.Interval)
	s.ticker = time.NewTicker(s.cfg.Interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.ticker.C:
				s.runGuarded(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop halts scheduling and waits for a run in progress to finish.
func (s *Scheduler) Stop() {
	s.stop.Do(func() {
		<-s.cron.Stop().Done()
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
	})
	s.wg.Wait()
}

// TriggerNow runs immediately unless a run is already going.
func (s *Scheduler) TriggerNow(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	defer s.running.Store(false)
	return s.runner.Run(ctx)
}

func (s *Scheduler) runGuarded(ctx context.Context) {
	err := s.TriggerNow(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		log.Println("Previous run still in progress, skipping")
	case err != nil:
		log.Printf("Scheduled run error: %v", err)
	}
}
