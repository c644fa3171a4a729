//go:build integration

package containers

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gaborage/alioli/config"
)

// MongoDBImage is the image used by MongoDB.
const MongoDBImage = "mongo:8.0"

// MongoDB starts a MongoDB server and returns store settings for a fresh database.
func MongoDB(ctx context.Context, t *testing.T) *config.MongoConfig {
	t.Helper()
	requireDocker(ctx, t)

	c, err := mongodb.Run(ctx, MongoDBImage,
		mongodb.WithUsername("alioli"),
		mongodb.WithPassword("alioli"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("Waiting for connections").WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start MongoDB container: %v", err)
	}
	terminateOnCleanup(t, c)

	uri, err := c.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get MongoDB connection string: %v", err)
	}
	return &config.MongoConfig{URI: uri, Database: "alioli_it", Collection: "alioli_http_request"}
}
