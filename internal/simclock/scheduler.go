package simclock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"caseclosed/backend/internal/cache"
	"caseclosed/backend/internal/domain"
	"caseclosed/backend/internal/logging"
)

const moduleName = "simclock"

// Job runs once per simulated day.
type Job interface {
	Name() string
	Run(ctx context.Context, today domain.SimDate) error
}

// Scheduler drives the daily jobs from a single ticker goroutine, so days never
// overlap inside a process. The locker keeps two processes from running the
// same day.
type Scheduler struct {
	clock    *Clock
	jobs     []Job
	interval time.Duration
	locker   cache.Locker
	logger   logrus.FieldLogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	day sync.Mutex
}

func NewScheduler(clock *Clock, interval time.Duration, locker cache.Locker, logger logrus.FieldLogger, jobs ...Job) *Scheduler {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	if locker == nil {
		locker = cache.NewLocalLocker()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{
		clock:    clock,
		jobs:     jobs,
		interval: interval,
		locker:   locker,
		logger:   logger.WithField("component", "simclock"),
	}
}

// Start launches the ticker. It returns false when the simulation is already running.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.running = true

	go s.loop(runCtx, done)
	s.logger.WithFields(logrus.Fields{
		"date":     s.clock.Today().String(),
		"interval": s.interval.String(),
	}).Info("simulation started")
	return true
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.StartOfDay(ctx)
		}
	}
}

// Stop halts the ticker and waits for an in-flight day to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.WithField("date", s.clock.Today().String()).Info("simulation stopped")
}

// Reset stops the simulation and rewinds the clock to the epoch.
func (s *Scheduler) Reset() {
	s.Stop()
	s.clock.Reset()
}

// Resume moves the clock to date, restarts the ticker and runs that day's jobs at once.
func (s *Scheduler) Resume(ctx context.Context, date domain.SimDate) {
	s.Stop()
	s.clock.Set(date)
	s.Start(ctx)
	s.runDay(context.WithoutCancel(ctx), date)
}

func (s *Scheduler) Status() domain.SimulationStatus {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	today := s.clock.Today()
	return domain.SimulationStatus{
		Running:        running,
		Date:           today,
		DaysSinceStart: today.DayNumber(),
	}
}

// StartOfDay advances the clock and runs every job for the new day.
func (s *Scheduler) StartOfDay(ctx context.Context) domain.SimDate {
	s.day.Lock()
	defer s.day.Unlock()

	today := s.clock.Increment()
	s.runDayLocked(ctx, today)
	return today
}

func (s *Scheduler) runDay(ctx context.Context, today domain.SimDate) {
	s.day.Lock()
	defer s.day.Unlock()
	s.runDayLocked(ctx, today)
}

func (s *Scheduler) runDayLocked(ctx context.Context, today domain.SimDate) {
	unlock, err := s.locker.TryLock(ctx, "caseclosed:tick:"+today.String(), s.interval)
	if errors.Is(err, cache.ErrLockHeld) {
		s.logger.WithField("date", today.String()).Info("day already running elsewhere, skipping")
		return
	}
	if err != nil {
		logging.LogError(s.logger, moduleName, "runDay", "tick lock failed", today.String(), err)
		return
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			logging.LogError(s.logger, moduleName, "runDay", "tick unlock failed", today.String(), err)
		}
	}()

	started := time.Now()
	for _, job := range s.jobs {
		if ctx.Err() != nil {
			return
		}
		if err := s.runJob(ctx, job, today); err != nil {
			logging.LogError(s.logger, moduleName, "runDay", "job failed", map[string]any{"job": job.Name(), "date": today.String()}, err)
		}
	}
	s.logger.WithFields(logrus.Fields{
		"date":        today.String(),
		"duration_ms": time.Since(started).Milliseconds(),
	}).Info("simulated day complete")
}

func (s *Scheduler) runJob(ctx context.Context, job Job, today domain.SimDate) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("job panicked")
			s.logger.WithFields(logrus.Fields{"job": job.Name(), "panic": r}).Error("job panicked")
		}
	}()
	return job.Run(ctx, today)
}
