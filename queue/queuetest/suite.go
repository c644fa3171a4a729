// Package queuetest holds the behavioural suite every queue.Store backend must pass.
package queuetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/alioli/headers"
	"github.com/gaborage/alioli/queue"
)

// Factory returns an empty store. It is called once per sub-test.
type Factory func(t *testing.T) queue.Store

// Sample returns a valid request with a body and duplicate headers.
func Sample(url string) *queue.PendingRequest {
	return &queue.PendingRequest{
		Method: "POST",
		URL:    url,
		Body:   &queue.Body{Content: `{"event":"signup"}`, ContentType: "application/json"},
		Headers: []headers.Header{
			{Key: "Accept", Value: "application/json"},
			{Key: "X-Tag", Value: "b"},
			{Key: "X-Tag", Value: "a"},
		},
		ValidUntil: 4_102_444_800_000,
	}
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertAssignsIncreasingIDs", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		req := Sample("https://example.com/a")
		req.ID = 999_999
		first, err := s.Insert(ctx, req)
		require.NoError(t, err)
		second, err := s.Insert(ctx, Sample("https://example.com/b"))
		require.NoError(t, err)

		assert.Greater(t, second, first)
		assert.NotEqual(t, int64(999_999), first)
	})

	t.Run("ListReturnsStoredFieldsInIDOrder", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		withBody := Sample("https://example.com/1")
		noBody := &queue.PendingRequest{Method: "GET", URL: "https://example.com/2", ValidUntil: 42}

		id1, err := s.Insert(ctx, withBody)
		require.NoError(t, err)
		id2, err := s.Insert(ctx, noBody)
		require.NoError(t, err)

		list, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)

		assert.Equal(t, id1, list[0].ID)
		assert.Equal(t, "POST", list[0].Method)
		assert.Equal(t, withBody.URL, list[0].URL)
		require.NotNil(t, list[0].Body)
		assert.Equal(t, *withBody.Body, *list[0].Body)
		assert.Equal(t, withBody.Headers, list[0].Headers)
		assert.Equal(t, withBody.ValidUntil, list[0].ValidUntil)

		assert.Equal(t, id2, list[1].ID)
		assert.Nil(t, list[1].Body)
		assert.Empty(t, list[1].Headers)
		assert.Equal(t, int64(42), list[1].ValidUntil)
	})

	t.Run("InsertRejectsInvalidRequests", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		for name, req := range map[string]*queue.PendingRequest{
			"nil":            nil,
			"missing method": {URL: "https://example.com/a", ValidUntil: 1},
			"relative url":   {Method: "GET", URL: "/a", ValidUntil: 1},
		} {
			_, err := s.Insert(ctx, req)
			assert.ErrorIs(t, err, queue.ErrStore, name)
			var verr *queue.ValidationError
			assert.ErrorAs(t, err, &verr, name)
		}

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		id, err := s.Insert(ctx, Sample("https://example.com/x"))
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, id))
		require.NoError(t, s.Delete(ctx, id))
		require.NoError(t, s.Delete(ctx, id+1000))

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("IDsAreNotReusedAfterDelete", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		id, err := s.Insert(ctx, Sample("https://example.com/x"))
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, id))

		next, err := s.Insert(ctx, Sample("https://example.com/y"))
		require.NoError(t, err)
		assert.Greater(t, next, id)
	})

	t.Run("CountTracksInsertsAndDeletes", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		ids := make([]int64, 0, 3)
		for i := range 3 {
			id, err := s.Insert(ctx, Sample(fmt.Sprintf("https://example.com/%d", i)))
			require.NoError(t, err)
			ids = append(ids, id)
		}
		require.NoError(t, s.Delete(ctx, ids[1]))

		n, err = s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		list, err := s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{ids[0], ids[2]}, idsOf(list))
	})

	t.Run("ConcurrentInsertsGetUniqueIDs", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		const workers = 8
		var (
			mu   sync.Mutex
			seen = make(map[int64]struct{}, workers)
			wg   sync.WaitGroup
		)
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id, err := s.Insert(ctx, Sample(fmt.Sprintf("https://example.com/c/%d", i)))
				assert.NoError(t, err)
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}()
		}
		wg.Wait()

		assert.Len(t, seen, workers)
		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, workers, n)
	})
}

func idsOf(list []*queue.PendingRequest) []int64 {
	ids := make([]int64, len(list))
	for i, r := range list {
		ids[i] = r.ID
	}
	return ids
}
