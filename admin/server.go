package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/gaborage/alioli/config"
	"github.com/gaborage/alioli/logger"
	"github.com/gaborage/alioli/queue"
	"github.com/gaborage/alioli/scheduler"
)

const (
	readTimeout  = 10 * time.Second
	writeTimeout = 30 * time.Second
)

// QueueReader is the read side of the queue store.
type QueueReader interface {
	List(ctx context.Context) ([]*queue.PendingRequest, error)
	Count(ctx context.Context) (int, error)
}

// JobController exposes the retry job to the endpoints.
type JobController interface {
	TriggerNow(ctx context.Context) error
	Metadata() *scheduler.JobMetadata
}

// Server hosts the system endpoints.
type Server struct {
	echo    *echo.Echo
	address string
	queue   QueueReader
	job     JobController
	masker  *logger.SensitiveDataFilter
	logger  logger.Logger
}

// New builds the admin server. Routes are registered immediately; call Start to listen.
func New(cfg config.AdminConfig, service string, q QueueReader, job JobController, log logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	// echo.Shutdown stops e.Server, so Start must serve on that instance.
	e.Server.Addr = cfg.Address
	e.Server.ReadTimeout = readTimeout
	e.Server.WriteTimeout = writeTimeout

	s := &Server{
		echo:    e,
		address: cfg.Address,
		queue:   q,
		job:     job,
		masker:  logger.NewSensitiveDataFilter(logger.DefaultFilterConfig()),
		logger:  log,
	}
	e.HTTPErrorHandler = s.errorHandler

	if service != "" {
		e.Use(otelecho.Middleware(service))
	}

	sys := e.Group("/_sys", CIDRMiddleware(cfg.Allowlist, cfg.TrustedProxies))
	sys.GET("/queue", s.listQueueHandler)
	sys.POST("/queue/drain", s.drainHandler)
	sys.GET("/job", s.jobHandler)

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on the configured address and blocks until Shutdown.
// A clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.address).Msg("Starting admin server")

	if err := s.echo.StartServer(s.echo.Server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
