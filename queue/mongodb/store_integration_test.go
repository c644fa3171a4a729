//go:build integration

package mongodb

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

func TestMongoDBContainerSuite(t *testing.T) {
	ctx := context.Background()
	cfg := containers.MongoDB(ctx, t)

	n := 0
	queuetest.Run(t, func(t *testing.T) queue.Store {
		n++
		c := *cfg
		c.Collection = fmt.Sprintf("%s_%d", cfg.Collection, n)
		store, err := Open(ctx, &c, logger.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close(ctx) })
		return store
	})
}
