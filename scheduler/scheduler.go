// Package scheduler runs the retry drain as a single named gocron job.
//
// EnqueueRetry replaces any pending run, so at most one drain pass is queued
// or running at a time. When a pass reports worker.Retry the job schedules
// itself again after attempt × backoffDelay, capped at MaxBackoff.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/gaborage/alioli/logger"
)

const (
	// DefaultJobName is the unique name of the drain job.
	DefaultJobName = "alioli-http-retry"
	// DefaultBackoffDelay is the linear backoff step.
	DefaultBackoffDelay = 15 * time.Minute
	// DefaultMaxBackoff caps the backoff at five hours.
	DefaultMaxBackoff = 5 * time.Hour
	// DefaultShutdownTimeout bounds how long Shutdown waits for an in-flight pass.
	DefaultShutdownTimeout = 30 * time.Second

	tracerName = "github.com/gaborage/alioli/scheduler"
)

// RetryScheduler owns the gocron scheduler and the state of the drain job.
type RetryScheduler struct {
	logger          logger.Logger
	tracer          trace.Tracer
	jobName         string
	backoffDelay    time.Duration
	maxBackoff      time.Duration
	shutdownTimeout time.Duration
	drain           DrainFunc
	networkCheck    NetworkCheck

	mu        sync.Mutex // protects the fields below
	scheduler gocron.Scheduler
	job       gocron.Job
	nextRun   *time.Time
	running   bool
	pending   *time.Duration
	attempt   int
	started   bool
	closed    bool

	metadata *JobMetadata

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	wg             sync.WaitGroup // tracks in-flight passes
}

// Option configures a RetryScheduler.
type Option func(*RetryScheduler)

// WithJobName overrides DefaultJobName.
func WithJobName(name string) Option {
	return func(s *RetryScheduler) { s.jobName = name }
}

// WithBackoffDelay sets the linear backoff step.
func WithBackoffDelay(d time.Duration) Option {
	return func(s *RetryScheduler) { s.backoffDelay = d }
}

// WithMaxBackoff caps the backoff.
func WithMaxBackoff(d time.Duration) Option {
	return func(s *RetryScheduler) { s.maxBackoff = d }
}

// WithShutdownTimeout bounds the wait for an in-flight pass during Shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *RetryScheduler) { s.shutdownTimeout = d }
}

// WithNetworkCheck installs the network precondition.
func WithNetworkCheck(check NetworkCheck) Option {
	return func(s *RetryScheduler) { s.networkCheck = check }
}

// WithLogger sets the scheduler logger. gocron's own logs are routed through it as well.
func WithLogger(log logger.Logger) Option {
	return func(s *RetryScheduler) {
		if log != nil {
			s.logger = log
		}
	}
}

// WithTracerProvider sets the provider used for drain spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *RetryScheduler) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

// New creates a RetryScheduler that runs drain. Call Start to begin firing jobs.
func New(drain DrainFunc, opts ...Option) (*RetryScheduler, error) {
	s := &RetryScheduler{
		logger:          logger.Nop(),
		tracer:          otel.Tracer(tracerName),
		jobName:         DefaultJobName,
		backoffDelay:    DefaultBackoffDelay,
		maxBackoff:      DefaultMaxBackoff,
		shutdownTimeout: DefaultShutdownTimeout,
		drain:           drain,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}

	gs, err := gocron.NewScheduler(gocron.WithLogger(gocronLogger{log: s.logger}))
	if err != nil {
		return nil, fmt.Errorf("scheduler: failed to create gocron scheduler: %w", err)
	}
	s.scheduler = gs
	s.metadata = &JobMetadata{JobName: s.jobName}
	s.shutdownCtx, s.shutdownCancel = context.WithCancel(context.Background())
	return s, nil
}

func (s *RetryScheduler) validate() error {
	switch {
	case s.drain == nil:
		return &ValidationError{Field: "drain", Message: "must not be nil"}
	case s.jobName == "":
		return &ValidationError{Field: "jobName", Message: "must not be empty"}
	case s.backoffDelay <= 0:
		return &ValidationError{Field: "backoffDelay", Message: "must be positive"}
	case s.maxBackoff < s.backoffDelay:
		return &ValidationError{Field: "maxBackoff", Message: "must be at least backoffDelay"}
	}
	return nil
}

// JobName returns the name the drain job is scheduled under.
func (s *RetryScheduler) JobName() string {
	return s.jobName
}

// Metadata returns a snapshot of the job state.
func (s *RetryScheduler) Metadata() *JobMetadata {
	return s.metadata.snapshot()
}

// Start begins firing scheduled runs. Runs enqueued before Start fire once it is called.
func (s *RetryScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true
	s.scheduler.Start()
	s.logger.Info().Str("job", s.jobName).Dur("backoff_delay", s.backoffDelay).Dur("max_backoff", s.maxBackoff).Msg("Retry scheduler started")
}

// Shutdown stops scheduling, cancels the context of an in-flight pass and
// waits for it up to the shutdown timeout or the ctx deadline.
func (s *RetryScheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.pending = nil
	s.mu.Unlock()

	s.logger.Info().Str("job", s.jobName).Msg("Initiating graceful scheduler shutdown")
	s.shutdownCancel()

	if err := s.scheduler.Shutdown(); err != nil {
		s.logger.Error().Err(err).Msg("Error stopping scheduler")
		return fmt.Errorf("scheduler: shutdown failed: %w", err)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.shutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
		s.logger.Info().Msg("Retry scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: shutdown interrupted: %w", ctx.Err())
	case <-timer.C:
		s.logger.Warn().Dur("timeout", s.shutdownTimeout).Msg("Shutdown timeout reached, drain pass may not have completed")
		return fmt.Errorf("scheduler: shutdown timeout after %v", s.shutdownTimeout)
	}
}

// backoff returns attempt × backoffDelay capped at maxBackoff.
func (s *RetryScheduler) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if time.Duration(attempt) > s.maxBackoff/s.backoffDelay {
		return s.maxBackoff
	}
	return min(time.Duration(attempt)*s.backoffDelay, s.maxBackoff)
}

type gocronLogger struct {
	log logger.Logger
}

func (l gocronLogger) Debug(msg string, args ...any) { withArgs(l.log.Debug(), args).Msg(msg) }
func (l gocronLogger) Info(msg string, args ...any)  { withArgs(l.log.Debug(), args).Msg(msg) }
func (l gocronLogger) Warn(msg string, args ...any)  { withArgs(l.log.Warn(), args).Msg(msg) }
func (l gocronLogger) Error(msg string, args ...any) { withArgs(l.log.Error(), args).Msg(msg) }

func withArgs(ev logger.LogEvent, args []any) logger.LogEvent {
	if len(args) == 0 {
		return ev
	}
	return ev.Interface("gocron", args)
}
