// Package scheduler runs the periodic dispatcher sweep
package scheduler

import (
	"context"
	"time"

	"github.com/amirphl/phishschool/app/services"
	businessflow "github.com/amirphl/phishschool/business_flow"
	"github.com/getsentry/sentry-go"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const sweepLockName = "dispatch-sweep"

// Sweeper is the part of the dispatcher the scheduler drives
type Sweeper interface {
	Sweep(ctx context.Context) (*businessflow.SweepResult, error)
}

// DispatchScheduler triggers one dispatcher sweep per cron tick.
// The sweep lock keeps replicas from sweeping concurrently.
type DispatchScheduler struct {
	cron    *cron.Cron
	spec    string
	sweeper Sweeper
	lock    services.SweepLock
	lockTTL time.Duration
	timeout time.Duration
	logger  *zap.Logger
}

func NewDispatchScheduler(spec string, sweeper Sweeper, lock services.SweepLock, lockTTL time.Duration, logger *zap.Logger) *DispatchScheduler {
	if spec == "" {
		spec = "@every 1m"
	}
	if lock == nil {
		lock = services.NewLocalSweepLock()
	}
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")

	cl := cronLogger{logger: logger}
	return &DispatchScheduler{
		cron:    cron.New(cron.WithLocation(time.UTC), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		spec:    spec,
		sweeper: sweeper,
		lock:    lock,
		lockTTL: lockTTL,
		timeout: lockTTL,
		logger:  logger,
	}
}

// Start registers the sweep job and returns a stop function that waits for a running sweep
func (s *DispatchScheduler) Start(parent context.Context) (func(), error) {
	ctx, cancel := context.WithCancel(parent)

	if _, err := s.cron.AddFunc(s.spec, func() { s.RunOnce(ctx) }); err != nil {
		cancel()
		return nil, err
	}
	s.cron.Start()
	s.logger.Info("dispatch scheduler started", zap.String("spec", s.spec))

	return func() {
		cancel()
		<-s.cron.Stop().Done()
		s.logger.Info("dispatch scheduler stopped")
	}, nil
}

// RunOnce runs a single guarded sweep. It reports whether this replica ran it.
func (s *DispatchScheduler) RunOnce(parent context.Context) bool {
	if parent.Err() != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	release, err := s.lock.TryAcquire(ctx, sweepLockName, s.lockTTL)
	if err != nil {
		s.logger.Error("failed to acquire sweep lock", zap.Error(err))
		return false
	}
	if release == nil {
		s.logger.Debug("sweep lock held elsewhere, skipping tick")
		return false
	}
	defer func() {
		// the sweep context may already be done
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("failed to release sweep lock", zap.Error(err))
		}
	}()

	// the sweeper logs its own counters
	start := time.Now()
	if _, err := s.sweeper.Sweep(ctx); err != nil {
		s.logger.Error("dispatch sweep failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		sentry.CaptureException(err)
	}
	return true
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
