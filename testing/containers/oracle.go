//go:build integration

package containers

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gaborage/alioli/config"
)

// OracleImage is the community Oracle Free image used by Oracle.
const OracleImage = "gvenzl/oracle-free:23-slim"

// Oracle starts Oracle Free with an application user and returns store settings for it.
// Startup takes minutes; callers usually guard it with testing.Short.
func Oracle(ctx context.Context, t *testing.T) *config.DatabaseConfig {
	t.Helper()
	requireDocker(ctx, t)

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        OracleImage,
			ExposedPorts: []string{"1521/tcp"},
			Env: map[string]string{
				"ORACLE_PASSWORD":   "alioli",
				"APP_USER":          "alioli",
				"APP_USER_PASSWORD": "alioli",
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("DATABASE IS READY TO USE!"),
				wait.ForListeningPort("1521/tcp"),
			).WithStartupTimeout(180 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start Oracle container: %v", err)
	}
	terminateOnCleanup(t, c)

	host, port := mappedPort(ctx, t, c, "1521/tcp")
	return &config.DatabaseConfig{
		Host:        host,
		Port:        port,
		ServiceName: "FREEPDB1",
		Username:    "alioli",
		Password:    "alioli",
		AutoMigrate: true,
		Pool:        config.PoolConfig{MaxConns: 4, MaxIdleConns: 1},
	}
}
