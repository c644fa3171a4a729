//go:build integration

package containers

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RabbitMQImage is the image used by RabbitMQ.
const RabbitMQImage = "rabbitmq:3.13-management-alpine"

// RabbitMQ starts a broker for dead-letter tests and returns its AMQP URL.
func RabbitMQ(ctx context.Context, t *testing.T) string {
	t.Helper()
	requireDocker(ctx, t)

	c, err := rabbitmq.Run(ctx, RabbitMQImage,
		rabbitmq.WithAdminUsername("guest"),
		rabbitmq.WithAdminPassword("guest"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start RabbitMQ container: %v", err)
	}
	terminateOnCleanup(t, c)

	url, err := c.AmqpURL(ctx)
	if err != nil {
		t.Fatalf("failed to get RabbitMQ AMQP URL: %v", err)
	}
	return url
}
