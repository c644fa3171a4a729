package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/gaborage/alioli/queue"
)

// MockStore provides a testify-based mock implementation of queue.Store.
// Use it to script store faults; queue/memory is the better double for happy paths.
//
// Example usage:
//
//	store := &mocks.MockStore{}
//	store.On("Insert", mock.Anything, mock.AnythingOfType("*queue.PendingRequest")).Return(int64(1), nil)
//	store.On("Delete", mock.Anything, int64(1)).Return(nil)
type MockStore struct {
	mock.Mock
}

var _ queue.Store = (*MockStore)(nil)

// Insert implements queue.Store
func (m *MockStore) Insert(ctx context.Context, req *queue.PendingRequest) (int64, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(int64), args.Error(1)
}

// List implements queue.Store
func (m *MockStore) List(ctx context.Context) ([]*queue.PendingRequest, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]*queue.PendingRequest), args.Error(1)
	}
	return nil, args.Error(1)
}

// Delete implements queue.Store
func (m *MockStore) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// Count implements queue.Store
func (m *MockStore) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}
