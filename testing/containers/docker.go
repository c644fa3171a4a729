//go:build integration

// Package containers starts throwaway backends for the queue store and
// dead-letter integration tests. Every helper skips the test when no Docker
// daemon is reachable and terminates its container when the test ends.
package containers

import (
	"context"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
)

// requireDocker skips t when the Docker daemon cannot be contacted.
func requireDocker(ctx context.Context, t *testing.T) {
	t.Helper()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		t.Skip("Docker is not available - skipping integration test")
	}
	defer provider.Close()

	if _, err := provider.DaemonHost(ctx); err != nil {
		t.Skip("Docker is not available - skipping integration test")
	}
}

// terminateOnCleanup removes c when t finishes.
func terminateOnCleanup(t *testing.T, c testcontainers.Container) {
	t.Helper()
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})
}

func mappedPort(ctx context.Context, t *testing.T, c testcontainers.Container, port nat.Port) (string, int) {
	t.Helper()

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	p, err := c.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("failed to get mapped port %s: %v", port, err)
	}
	return host, p.Int()
}
