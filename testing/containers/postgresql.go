//go:build integration

package containers

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gaborage/alioli/config"
)

// PostgreSQLImage is the image used by PostgreSQL.
const PostgreSQLImage = "postgres:17-alpine"

// PostgreSQL starts a PostgreSQL server and returns store settings pointing at it.
// AutoMigrate is enabled so the queue table exists once sqlstore.Open returns.
func PostgreSQL(ctx context.Context, t *testing.T) *config.DatabaseConfig {
	t.Helper()
	requireDocker(ctx, t)

	c, err := postgres.Run(ctx, PostgreSQLImage,
		postgres.WithDatabase("alioli"),
		postgres.WithUsername("alioli"),
		postgres.WithPassword("alioli"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start PostgreSQL container: %v", err)
	}
	terminateOnCleanup(t, c)

	host, port := mappedPort(ctx, t, c, "5432/tcp")
	return &config.DatabaseConfig{
		Host:        host,
		Port:        port,
		Database:    "alioli",
		Username:    "alioli",
		Password:    "alioli",
		SSLMode:     "disable",
		AutoMigrate: true,
		Pool:        config.PoolConfig{MaxConns: 4, MaxIdleConns: 1},
	}
}
