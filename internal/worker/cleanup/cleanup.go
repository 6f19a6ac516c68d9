// Package cleanup provides the expired-session cleanup job run by the worker
// process. Deletion is idempotent, so a missed or repeated run is harmless.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SessionDeleter removes sessions that expired before a point in time.
// *repository.PostgresSessionRepo satisfies it.
type SessionDeleter interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Recorder receives the number of sessions removed per run.
type Recorder interface {
	RecordSessionsCleaned(count int64)
}

// Job deletes expired sessions.
type Job struct {
	sessions SessionDeleter
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time
}

// Option configures a Job.
type Option func(*Job)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(j *Job) { j.now = now }
}

// WithRecorder reports run results to r.
func WithRecorder(r Recorder) Option {
	return func(j *Job) { j.recorder = r }
}

// NewJob creates a cleanup Job.
func NewJob(sessions SessionDeleter, logger *zap.Logger, opts ...Option) *Job {
	j := &Job{
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run deletes every session whose expiry is in the past.
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.sessions.DeleteExpired(ctx, j.now())
	if err != nil {
		j.logger.Error("session cleanup failed", zap.Error(err))
		return fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordSessionsCleaned(deleted)
	}
	j.logger.Info("session cleanup completed",
		zap.Int64("deleted_count", deleted),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return nil
}

// Start runs the job once, then on every tick of schedule (standard cron
// syntax or a descriptor such as "@daily") until ctx is cancelled. It
// returns after the last in-flight run has finished.
func (j *Job) Start(ctx context.Context, schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		// Errors are already logged by Run.
		_ = j.Run(ctx)
	}); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}

	_ = j.Run(ctx)

	c.Start()
	j.logger.Info("session cleanup scheduled", zap.String("schedule", schedule))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
