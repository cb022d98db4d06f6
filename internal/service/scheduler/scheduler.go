package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"inquiry-relay-go/internal/service"
)

// Checker runs one polling cycle
type Checker interface {
	Check(ctx context.Context) (service.CheckResult, error)
}

// schedules may be written with or without a leading seconds field
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler runs the inquiry poller on a cron schedule
type Scheduler struct {
	cron      *cron.Cron
	entryID   cron.EntryID
	schedule  string
	checker   Checker
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	lastRun   time.Time
	lastErr   error
	mu        sync.RWMutex
}

// New creates a scheduler for the given cron schedule
func New(schedule string, checker Checker) (*Scheduler, error) {
	if _, err := scheduleParser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("invalid poll schedule %q: %w", schedule, err)
	}
	return &Scheduler{
		schedule: schedule,
		checker:  checker,
	}, nil
}

// Start schedules the poller and runs the first check immediately
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	logger := cron.PrintfLogger(logrus.StandardLogger())
	c := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	entryID, err := c.AddFunc(s.schedule, s.poll)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = c
	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	// the cron chain does not cover this run; the poller serialises cycles itself
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.check()
	}()

	logrus.Infof("Poll scheduler started with schedule: %s", s.schedule)
	return nil
}

// Stop stops the scheduler and waits for a running check to finish
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.cancel()
	stopped := s.cron.Stop()
	s.mu.Unlock()

	select {
	case <-stopped.Done():
		logrus.Info("Poll scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Poll scheduler stop timeout, forcing shutdown")
	}
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Schedule returns the cron schedule
func (s *Scheduler) Schedule() string {
	return s.schedule
}

// RunOnce runs a polling cycle now, whether or not the scheduler is running
func (s *Scheduler) RunOnce(ctx context.Context) (service.CheckResult, error) {
	s.wg.Add(1)
	defer s.wg.Done()

	logrus.Info("Running inquiry poll once")
	result, err := s.checker.Check(ctx)
	s.recordRun(err)
	return result, err
}

// NextRun returns the time of the next scheduled run
func (s *Scheduler) NextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// LastRun returns the time the last check finished and its error
func (s *Scheduler) LastRun() (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun, s.lastErr
}

// Wait waits for running checks to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// poll is the scheduled job
func (s *Scheduler) poll() {
	s.wg.Add(1)
	defer s.wg.Done()
	s.check()
}

// check runs one cycle while the scheduler is running. The caller holds the
// wg count for it.
func (s *Scheduler) check() {
	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		logrus.Info("Scheduler not running, skipping poll cycle")
		return
	}
	ctx := s.ctx
	s.mu.RUnlock()

	startTime := time.Now()
	_, err := s.checker.Check(ctx)
	s.recordRun(err)
	if err != nil {
		logrus.Errorf("Inquiry poll failed: %v", err)
		return
	}
	logrus.Debugf("Inquiry poll completed in %v", time.Since(startTime))
}

func (s *Scheduler) recordRun(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = time.Now()
	s.lastErr = err
}
