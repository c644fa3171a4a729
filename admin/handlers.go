package admin

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/gaborage/alioli/queue"
	"github.com/gaborage/alioli/scheduler"
)

// QueueResponse is the body of GET /_sys/queue.
type QueueResponse struct {
	Count    int                     `json:"count"`
	Requests []*queue.PendingRequest `json:"requests"`
}

// DrainResponse is the body of POST /_sys/queue/drain.
type DrainResponse struct {
	JobName string `json:"jobName"`
	Trigger string `json:"trigger"`
	Message string `json:"message"`
}

// GET /_sys/queue
func (s *Server) listQueueHandler(c echo.Context) error {
	ctx := c.Request().Context()

	items, err := s.queue.List(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list queue")
		return respondError(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "queue store unavailable")
	}

	// Records are clones; masking here never touches the store.
	for _, it := range items {
		it.Headers = s.masker.MaskHeaders(it.Headers)
	}

	return respond(c, http.StatusOK, QueueResponse{Count: len(items), Requests: items})
}

// POST /_sys/queue/drain
func (s *Server) drainHandler(c echo.Context) error {
	err := s.job.TriggerNow(c.Request().Context())
	switch {
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		return respondError(c, http.StatusConflict, "CONFLICT", "a drain pass is already running")
	case errors.Is(err, scheduler.ErrShutdown):
		return respondError(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "scheduler is shutting down")
	case err != nil:
		return err
	}

	md := s.job.Metadata()
	return respond(c, http.StatusAccepted, DrainResponse{
		JobName: md.JobName,
		Trigger: scheduler.TriggerManual,
		Message: "Drain pass started",
	})
}

// GET /_sys/job
func (s *Server) jobHandler(c echo.Context) error {
	return respond(c, http.StatusOK, s.job.Metadata())
}
