//go:build integration

package containers

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gaborage/alioli/config"
)

// RedisImage is the image used by Redis.
const RedisImage = "redis:7-alpine"

// Redis starts a Redis server and returns store settings with a per-test key prefix.
func Redis(ctx context.Context, t *testing.T) *config.RedisConfig {
	t.Helper()
	requireDocker(ctx, t)

	c, err := redis.Run(ctx, RedisImage,
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start Redis container: %v", err)
	}
	terminateOnCleanup(t, c)

	host, port := mappedPort(ctx, t, c, "6379/tcp")
	return &config.RedisConfig{Host: host, Port: port, Prefix: "alioli-it"}
}
