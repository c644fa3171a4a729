package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const defaultShutdownTimeout = 30 * time.Second

// Start begins scheduling and serving. Records left over from a previous
// process get an immediate drain since their schedule was not persisted.
func (a *App) Start(ctx context.Context) error {
	a.registerQueueDepth()
	a.scheduler.Start()

	if a.admin != nil {
		a.adminErr = make(chan error, 1)
		go func() {
			a.adminErr <- a.admin.Start()
		}()
	}

	pending, err := a.store.Count(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Could not count pending requests at startup")
		return nil
	}
	if pending > 0 {
		a.logger.Info().Int("pending", pending).Msg("Pending requests found, scheduling drain")
		if err := a.scheduler.EnqueueRetry(0); err != nil {
			return fmt.Errorf("failed to schedule startup drain: %w", err)
		}
	}
	return nil
}

// Run starts the app and blocks until ctx is cancelled, SIGINT or SIGTERM
// arrives, or the admin server fails. It then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return errors.Join(err, a.Shutdown(context.Background()))
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info().Msg("Shutdown signal received")
	case err := <-a.adminErr:
		if err != nil {
			runErr = fmt.Errorf("admin server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	return errors.Join(runErr, a.Shutdown(shutdownCtx))
}

// Shutdown stops the admin server and the scheduler, then releases the
// dead-letter connection, the store and telemetry. Queued records stay in
// the store for the next process.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.admin != nil {
		if err := a.admin.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admin server: %w", err))
		}
	}
	if a.scheduler != nil {
		if err := a.scheduler.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.closeResources(ctx); err != nil {
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	if err != nil {
		a.logger.Error().Err(err).Msg("alioli shutdown finished with errors")
	} else {
		a.logger.Info().Msg("alioli stopped")
	}
	return err
}
