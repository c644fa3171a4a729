//go:build integration

package deadletter

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/alioli/logger"
	"github.com/gaborage/alioli/testing/containers"
)

func TestPublisherAgainstRabbitMQ(t *testing.T) {
	ctx := context.Background()
	url := containers.RabbitMQ(ctx, t)

	p, err := New(Config{URL: url, RoutingKey: "alioli.expired"}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(ctx) })

	require.NoError(t, p.NotifyExpired(ctx, expired()))

	conn, err := amqp.Dial(url)
	require.NoError(t, err)
	defer conn.Close()
	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	var delivery amqp.Delivery
	require.Eventually(t, func() bool {
		d, ok, gerr := ch.Get("alioli.expired", true)
		if gerr != nil || !ok {
			return false
		}
		delivery = d
		return true
	}, 10*time.Second, 100*time.Millisecond)

	var msg Message
	require.NoError(t, json.Unmarshal(delivery.Body, &msg))
	require.Equal(t, int64(42), msg.ID)
	require.Equal(t, messageType, delivery.Type)
}
