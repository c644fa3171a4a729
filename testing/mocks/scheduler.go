package mocks

import (
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockRetryEnqueuer provides a testify-based mock of the retry scheduler used by capture.Gate.
type MockRetryEnqueuer struct {
	mock.Mock
}

// EnqueueRetry records the call and returns the scripted error.
func (m *MockRetryEnqueuer) EnqueueRetry(delay time.Duration) error {
	args := m.Called(delay)
	return args.Error(0)
}

// RecordingEnqueuer records every requested delay and never fails.
type RecordingEnqueuer struct {
	mu     sync.Mutex
	delays []time.Duration
}

// EnqueueRetry records delay.
func (r *RecordingEnqueuer) EnqueueRetry(delay time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, delay)
	return nil
}

// Delays returns the recorded delays in call order.
func (r *RecordingEnqueuer) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}
