// Package deadletter publishes requests that expired in the queue to RabbitMQ
// so they can be inspected or replayed. The drop itself is unaffected: a
// failed publication is reported to the caller, which still deletes the record.
package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/gaborage/alioli/headers"
	"github.com/gaborage/alioli/logger"
	"github.com/gaborage/alioli/queue"
)

const (
	tracerName     = "github.com/gaborage/alioli/deadletter"
	contentType    = "application/json"
	messageType    = "alioli.request.expired"
	defaultTimeout = 10 * time.Second
)

var (
	// ErrClosed is returned by NotifyExpired after Close.
	ErrClosed = errors.New("deadletter: publisher closed")
	// ErrNacked is returned when the broker refuses a message.
	ErrNacked = errors.New("deadletter: message not acknowledged by broker")
)

// Config addresses the broker and the destination.
type Config struct {
	URL string
	// Exchange receives the messages. Empty publishes through the default
	// exchange straight to the queue named by RoutingKey.
	Exchange   string
	RoutingKey string
	// ConfirmTimeout bounds the wait for a publisher confirm.
	ConfirmTimeout time.Duration
}

// Message is the JSON document published for an expired request.
type Message struct {
	ID         int64            `json:"id"`
	Method     string           `json:"method"`
	URL        string           `json:"url"`
	Headers    []headers.Header `json:"headers"`
	Body       *queue.Body      `json:"body,omitempty"`
	ValidUntil int64            `json:"valid_until"`
	ExpiredAt  time.Time        `json:"expired_at"`
}

// Publisher implements the worker's expiry notifier over AMQP with publisher confirms.
type Publisher struct {
	mu       sync.Mutex
	cfg      Config
	conn     amqpConnection
	channel  amqpChannel
	confirms chan amqp.Confirmation
	closed   bool
	now      func() time.Time
	logger   logger.Logger
	tracer   trace.Tracer
}

// New connects to the broker and declares the destination.
func New(cfg Config, log logger.Logger) (*Publisher, error) {
	if cfg.RoutingKey == "" {
		return nil, errors.New("deadletter: routing key is required")
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaultTimeout
	}
	if log == nil {
		log = logger.Nop()
	}

	p := &Publisher{
		cfg:    cfg,
		now:    time.Now,
		logger: log,
		tracer: otel.Tracer(tracerName),
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	log.Info().
		Str("broker", redactURL(cfg.URL)).
		Str("exchange", cfg.Exchange).
		Str("routing_key", cfg.RoutingKey).
		Msg("Dead-letter publisher connected")
	return p, nil
}

// connect dials and prepares a confirm-mode channel. Must be called with p.mu held or before p is shared.
func (p *Publisher) connect() error {
	conn, err := dialFunc(p.cfg.URL, amqp.Config{Dial: amqp.DefaultDial(p.cfg.ConfirmTimeout)})
	if err != nil {
		return fmt.Errorf("deadletter: dial %s: %w", redactURL(p.cfg.URL), err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("deadletter: open channel: %w", err)
	}
	if err := p.declare(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("deadletter: enable confirms: %w", err)
	}

	p.conn = conn
	p.channel = ch
	p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	return nil
}

func (p *Publisher) declare(ch amqpChannel) error {
	if p.cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(p.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return fmt.Errorf("deadletter: declare exchange %s: %w", p.cfg.Exchange, err)
		}
		return nil
	}
	if _, err := ch.QueueDeclare(p.cfg.RoutingKey, true, false, false, false, nil); err != nil {
		return fmt.Errorf("deadletter: declare queue %s: %w", p.cfg.RoutingKey, err)
	}
	return nil
}

// NotifyExpired publishes req and waits for the broker's confirm.
// A broken channel is re-established once before giving up.
func (p *Publisher) NotifyExpired(ctx context.Context, req *queue.PendingRequest) error {
	body, err := json.Marshal(Message{
		ID:         req.ID,
		Method:     req.Method,
		URL:        req.URL,
		Headers:    req.Headers,
		Body:       req.Body,
		ValidUntil: req.ValidUntil,
		ExpiredAt:  p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("deadletter: encode request %d: %w", req.ID, err)
	}

	destination := p.cfg.Exchange
	if destination == "" {
		destination = p.cfg.RoutingKey
	}
	ctx, span := p.tracer.Start(ctx, destination+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String(string(semconv.MessagingSystemKey), "rabbitmq"),
			semconv.MessagingOperationName("publish"),
			semconv.MessagingDestinationName(destination),
			semconv.MessagingMessageBodySize(len(body)),
			attribute.Int64("alioli.request.id", req.ID),
		))
	defer span.End()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	err = p.publishLocked(ctx, body)
	if err != nil && !errors.Is(err, ErrNacked) && ctx.Err() == nil {
		p.logger.Warn().Err(err).Msg("Dead-letter publish failed, reconnecting")
		p.closeLocked()
		if cerr := p.connect(); cerr != nil {
			err = errors.Join(err, cerr)
		} else {
			err = p.publishLocked(ctx, body)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return err
	}

	p.logger.Debug().Int64("id", req.ID).Str("url", req.URL).Msg("Expired request dead-lettered")
	return nil
}

func (p *Publisher) publishLocked(ctx context.Context, body []byte) error {
	if p.channel == nil {
		return errors.New("deadletter: not connected")
	}

	msg := amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.New().String(),
		Type:         messageType,
		Timestamp:    p.now(),
		Body:         body,
		Headers:      amqp.Table{},
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(msg.Headers))

	if err := p.channel.PublishWithContext(ctx, p.cfg.Exchange, p.cfg.RoutingKey, false, false, msg); err != nil {
		return fmt.Errorf("deadletter: publish: %w", err)
	}

	timer := time.NewTimer(p.cfg.ConfirmTimeout)
	defer timer.Stop()
	select {
	case confirm, ok := <-p.confirms:
		if !ok {
			return errors.New("deadletter: channel closed before confirm")
		}
		if !confirm.Ack {
			return ErrNacked
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("deadletter: no confirm within %s", p.cfg.ConfirmTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) closeLocked() {
	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close releases the channel and connection. Further publishes fail with ErrClosed.
func (p *Publisher) Close(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.closeLocked()
	return nil
}

// redactURL masks the password of an AMQP URL for logging.
func redactURL(raw string) string {
	const placeholder = "amqp://****:****@<host>"
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "amqp" && u.Scheme != "amqps") || u.Host == "" {
		return placeholder
	}
	if u.User == nil {
		return u.String()
	}

	// url.UserPassword would escape the mask, so the userinfo is spliced in by hand.
	userInfo := "****:****"
	if name := u.User.Username(); name != "" {
		userInfo = name + ":****"
	}
	u.User = nil
	rest := strings.TrimPrefix(u.String(), u.Scheme+"://")
	return u.Scheme + "://" + userInfo + "@" + rest
}
