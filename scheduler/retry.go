package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gaborage/alioli/worker"
)

// EnqueueRetry schedules the drain job delay from now, replacing any pending
// run and resetting the attempt counter. While a pass is running the request
// is remembered and applied when the pass finishes.
func (s *RetryScheduler) EnqueueRetry(delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrShutdown
	}
	s.metadata.incrementEnqueued()
	s.attempt = 0

	if s.running {
		d := delay
		s.pending = &d
		s.logger.Debug().Str("job", s.jobName).Dur("delay", delay).Msg("Drain pass running, retry enqueue deferred until it finishes")
		return nil
	}
	return s.scheduleLocked(delay)
}

// TriggerNow starts a drain pass in the background. It returns ErrAlreadyRunning
// when a pass is in flight and ErrShutdown after Shutdown.
func (s *RetryScheduler) TriggerNow(_ context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShutdown
	}
	if s.running {
		s.mu.Unlock()
		s.metadata.incrementSkipped()
		return ErrAlreadyRunning
	}
	s.mu.Unlock()

	go s.execute(TriggerManual)
	return nil
}

// scheduleLocked replaces the drain job with a one-time run delay from now.
// Must be called with s.mu held.
func (s *RetryScheduler) scheduleLocked(delay time.Duration) error {
	startAt := gocron.OneTimeJobStartImmediately()
	next := time.Now()
	if delay >= time.Millisecond {
		next = next.Add(delay)
		startAt = gocron.OneTimeJobStartDateTime(next)
	}

	definition := gocron.OneTimeJob(startAt)
	task := gocron.NewTask(s.run)

	var (
		job gocron.Job
		err error
	)
	if s.job != nil {
		job, err = s.scheduler.Update(s.job.ID(), definition, task, gocron.WithName(s.jobName))
	} else {
		job, err = s.scheduler.NewJob(definition, task, gocron.WithName(s.jobName))
	}
	if err != nil {
		return fmt.Errorf("scheduler: failed to schedule job '%s': %w", s.jobName, err)
	}
	if job != nil {
		s.job = job
	}
	s.nextRun = &next
	s.metadata.setSchedule(s.attempt, s.nextRun)

	s.logger.Debug().Str("job", s.jobName).Dur("delay", delay).Int("attempt", s.attempt).Msg("Drain job scheduled")
	return nil
}

func (s *RetryScheduler) run() {
	s.execute(TriggerScheduled)
}

// execute runs one drain pass unless another one is in flight.
func (s *RetryScheduler) execute(trigger string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Warn().Str("job", s.jobName).Msg("Job trigger skipped - scheduler is shutting down")
		return
	}
	if s.running {
		s.mu.Unlock()
		s.logger.Warn().Str("job", s.jobName).Str("triggerType", trigger).Msg("Job trigger skipped - drain pass already running")
		s.metadata.incrementSkipped()
		return
	}
	s.running = true
	if trigger == TriggerScheduled {
		s.nextRun = nil
		s.metadata.setSchedule(s.attempt, nil)
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.metadata.started(trigger)

	ctx, cancel := context.WithCancel(s.shutdownCtx)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "alioli.drain",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("alioli.job.name", s.jobName),
			attribute.String("alioli.job.trigger", trigger),
		))
	defer span.End()

	if s.networkCheck != nil && !s.networkCheck(ctx) {
		span.SetAttributes(attribute.String("alioli.job.status", StatusDeferred))
		s.finishDeferred()
		return
	}

	start := time.Now()
	result, err := runDrain(ctx, s.drain)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error().Err(err).Str("job", s.jobName).Str("result", result.String()).Dur("duration", duration).Msg("Drain pass failed")
	} else {
		s.logger.Info().Str("job", s.jobName).Str("result", result.String()).Dur("duration", duration).Msg("Drain pass completed")
	}
	span.SetAttributes(attribute.String("alioli.job.status", result.String()))
	s.finish(result, err != nil)
}

// finish applies the pass result: Retry reschedules with linear backoff,
// Success and PermanentFailure reset the attempt counter. An enqueue that
// arrived during the pass replaces the self-reschedule.
func (s *RetryScheduler) finish(result worker.Result, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false

	status := StatusSuccess
	var delay time.Duration
	reschedule := false

	switch result {
	case worker.Retry:
		status = StatusRetry
		s.attempt++
		delay = s.backoff(s.attempt)
		reschedule = true
	case worker.PermanentFailure:
		status = StatusPermanentFailure
		s.attempt = 0
	default:
		s.attempt = 0
	}
	s.metadata.finished(status, failed)

	if pending := s.pending; pending != nil {
		s.pending = nil
		s.attempt = 0
		delay = *pending
		reschedule = true
	}

	if s.closed || !reschedule {
		s.metadata.setSchedule(s.attempt, s.nextRun)
		return
	}
	if err := s.scheduleLocked(delay); err != nil {
		s.logger.Error().Err(err).Str("job", s.jobName).Msg("Failed to reschedule drain job")
	}
}

// finishDeferred postpones the run by the current backoff without counting an attempt.
func (s *RetryScheduler) finishDeferred() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.metadata.finished(StatusDeferred, false)

	delay := s.backoff(s.attempt)
	if s.pending != nil {
		delay = *s.pending
		s.pending = nil
	}
	s.logger.Info().Str("job", s.jobName).Dur("delay", delay).Msg("Network unavailable, drain pass postponed")

	if s.closed {
		return
	}
	if err := s.scheduleLocked(delay); err != nil {
		s.logger.Error().Err(err).Str("job", s.jobName).Msg("Failed to reschedule drain job")
	}
}
