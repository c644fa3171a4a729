//go:build integration

package redis

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gaborage/alioli/logger"
	"github.com/gaborage/alioli/queue"
	"github.com/gaborage/alioli/queue/queuetest"
	"github.com/gaborage/alioli/testing/containers"
)

func TestRedisContainerSuite(t *testing.T) {
	ctx := context.Background()
	cfg := containers.Redis(ctx, t)

	n := 0
	queuetest.Run(t, func(t *testing.T) queue.Store {
		n++
		c := *cfg
		c.Prefix = fmt.Sprintf("%s-%d", cfg.Prefix, n)
		store, err := Open(ctx, &c, logger.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close(ctx) })
		return store
	})
}
