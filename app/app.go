// Package app assembles an alioli process from configuration: the queue
// store, the outbound client with the capture gate, the retry scheduler and
// worker, and the optional dead-letter publisher, admin server and telemetry.
package app

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"

	"github.com/gaborage/alioli/admin"
	"github.com/gaborage/alioli/capture"
	"github.com/gaborage/alioli/config"
	"github.com/gaborage/alioli/deadletter"
	"github.com/gaborage/alioli/internal/tracking"
	"github.com/gaborage/alioli/logger"
	"github.com/gaborage/alioli/observability"
	"github.com/gaborage/alioli/queue"
	"github.com/gaborage/alioli/scheduler"
	"github.com/gaborage/alioli/transport"
	"github.com/gaborage/alioli/worker"
)

// App owns every long-lived component of an alioli process.
type App struct {
	cfg    *config.Config
	logger logger.Logger

	obs        observability.Provider
	store      queue.Store
	gate       *capture.Gate
	client     *transport.Client
	retry      *transport.Client
	worker     *worker.Worker
	scheduler  *scheduler.RetryScheduler
	deadLetter *deadletter.Publisher
	admin      *admin.Server

	roundTripper nethttp.RoundTripper
	stopDepth    func()
	adminErr     chan error
}

// Option customises Build.
type Option func(*buildOptions)

type buildOptions struct {
	storeFactory StoreFactory
	roundTripper nethttp.RoundTripper
}

// WithStoreFactory replaces OpenStore.
func WithStoreFactory(f StoreFactory) Option {
	return func(o *buildOptions) { o.storeFactory = f }
}

// WithStore uses an already opened store.
func WithStore(s queue.Store) Option {
	return WithStoreFactory(func(context.Context, *config.StoreConfig, logger.Logger) (queue.Store, error) {
		return s, nil
	})
}

// WithRoundTripper sets the base round tripper for outbound requests.
func WithRoundTripper(rt nethttp.RoundTripper) Option {
	return func(o *buildOptions) { o.roundTripper = rt }
}

// Build wires the components described by cfg. Nothing is started; call Start.
func Build(ctx context.Context, cfg *config.Config, log logger.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, config.ErrNotConfigured
	}
	if log == nil {
		log = logger.Nop()
	}
	o := buildOptions{storeFactory: OpenStore}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: log, roundTripper: o.roundTripper}
	ok := false
	defer func() {
		if !ok {
			a.closeResources(context.Background())
		}
	}()

	if err := a.initObservability(); err != nil {
		return nil, err
	}

	store, err := o.storeFactory(ctx, &cfg.Store, log.Component("queue"))
	if err != nil {
		return nil, fmt.Errorf("failed to open queue store: %w", err)
	}
	a.store = store

	if cfg.DeadLetter.Enabled {
		pub, err := deadletter.New(deadletter.Config{
			URL:        cfg.DeadLetter.URL,
			Exchange:   cfg.DeadLetter.Exchange,
			RoutingKey: cfg.DeadLetter.RoutingKey,
		}, log.Component("deadletter"))
		if err != nil {
			return nil, fmt.Errorf("failed to start dead-letter publisher: %w", err)
		}
		a.deadLetter = pub
	}

	if err := a.initRetryPath(); err != nil {
		return nil, err
	}
	a.initCapturePath()

	if cfg.Admin.Enabled {
		a.admin = admin.New(cfg.Admin, cfg.App.Name, a.store, a.scheduler, log.Component("admin"))
	}

	ok = true
	log.Info().
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Env).
		Str("store", cfg.Store.Type).
		Bool("dead_letter", a.deadLetter != nil).
		Bool("admin", a.admin != nil).
		Msg("alioli assembled")
	return a, nil
}

func (a *App) initObservability() error {
	var obsCfg observability.Config
	if a.cfg.Exists("observability") {
		if err := a.cfg.Unmarshal("observability", &obsCfg); err != nil {
			return err
		}
	}
	if obsCfg.Service.Name == "" {
		obsCfg.Service.Name = a.cfg.App.Name
	}
	if obsCfg.Service.Version == "" {
		obsCfg.Service.Version = a.cfg.App.Version
	}
	if obsCfg.Environment == "" {
		obsCfg.Environment = a.cfg.App.Env
	}

	p, err := observability.NewProvider(&obsCfg, a.logger.Component("observability"))
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	a.obs = p
	return nil
}

// initRetryPath builds the worker client, the worker and the scheduler.
// The worker client carries no gate so re-deliveries are never captured again.
func (a *App) initRetryPath() error {
	cfg := a.cfg
	a.retry = a.clientBuilder().Build()

	workerOpts := []worker.Option{
		worker.WithLogger(a.logger.Component("worker")),
		worker.WithTracerProvider(a.obs.TracerProvider()),
		worker.WithRateLimit(cfg.Worker.RateLimit, cfg.Worker.Burst),
		worker.WithAttemptTimeout(cfg.Worker.AttemptTimeout),
	}
	if a.deadLetter != nil {
		workerOpts = append(workerOpts, worker.WithExpiryNotifier(a.deadLetter))
	}
	a.worker = worker.New(a.store, a.retry, workerOpts...)

	schedOpts := []scheduler.Option{
		scheduler.WithJobName(cfg.Scheduler.JobName),
		scheduler.WithBackoffDelay(cfg.Capture.BackoffDelay),
		scheduler.WithMaxBackoff(cfg.Scheduler.MaxBackoff),
		scheduler.WithShutdownTimeout(cfg.Scheduler.ShutdownTimeout),
		scheduler.WithLogger(a.logger.Component("scheduler")),
		scheduler.WithTracerProvider(a.obs.TracerProvider()),
	}
	if cfg.Scheduler.Network.Enabled {
		schedOpts = append(schedOpts, scheduler.WithNetworkCheck(
			scheduler.TCPProbe(cfg.Scheduler.Network.Address, cfg.Scheduler.Network.Timeout)))
	}
	sched, err := scheduler.New(a.worker.RunDrainPass, schedOpts...)
	if err != nil {
		return fmt.Errorf("failed to create retry scheduler: %w", err)
	}
	a.scheduler = sched
	return nil
}

func (a *App) initCapturePath() {
	a.gate = capture.NewGate(a.store, a.scheduler,
		capture.WithBackoffDelay(a.cfg.Capture.BackoffDelay),
		capture.WithDefaultValidity(a.cfg.Capture.DefaultValidity),
		capture.WithLogger(a.logger.Component("capture")),
		capture.WithTracerProvider(a.obs.TracerProvider()),
	)
	// The gate must be the last interceptor so it sees the final request.
	a.client = a.clientBuilder().WithInterceptor(a.gate.Intercept).Build()
}

func (a *App) clientBuilder() *transport.Builder {
	b := transport.NewBuilder(a.logger.Component("transport")).
		WithTimeout(a.cfg.HTTP.Timeout).
		WithRequestIDHeader(a.cfg.HTTP.RequestIDHeader)
	if a.roundTripper != nil {
		b = b.WithRoundTripper(a.roundTripper)
	}
	return b
}

// Gate returns the capture gate.
func (a *App) Gate() *capture.Gate { return a.gate }

// Client returns the outbound client whose requests pass through the gate.
func (a *App) Client() *transport.Client { return a.client }

// HTTPClient returns a net/http client routed through the gate, for code that
// already speaks net/http.
func (a *App) HTTPClient() *nethttp.Client {
	base := a.roundTripper
	if base == nil {
		base = nethttp.DefaultTransport
	}
	return &nethttp.Client{
		Timeout:   a.cfg.HTTP.Timeout,
		Transport: capture.NewTransport(a.gate, base),
	}
}

// Store returns the queue store.
func (a *App) Store() queue.Store { return a.store }

// Scheduler returns the retry scheduler.
func (a *App) Scheduler() *scheduler.RetryScheduler { return a.scheduler }

// Worker returns the retry worker.
func (a *App) Worker() *worker.Worker { return a.worker }

// Admin returns the admin server, or nil when disabled.
func (a *App) Admin() *admin.Server { return a.admin }

// DrainOnce runs a single drain pass outside the scheduler.
func (a *App) DrainOnce(ctx context.Context) (worker.Result, error) {
	return a.worker.RunDrainPass(ctx)
}

func (a *App) closeResources(ctx context.Context) error {
	var errs []error
	if a.stopDepth != nil {
		a.stopDepth()
		a.stopDepth = nil
	}
	if a.deadLetter != nil {
		if err := a.deadLetter.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("dead-letter publisher: %w", err))
		}
	}
	if closer, ok := a.store.(queue.Closer); ok {
		if err := closer.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("queue store: %w", err))
		}
	}
	if a.obs != nil {
		if err := a.obs.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("observability: %w", err))
		}
	}
	return errors.Join(errs...)
}

// registerQueueDepth exposes the store size as a gauge.
func (a *App) registerQueueDepth() {
	a.stopDepth = tracking.RegisterQueueDepth(a.store.Count)
}
