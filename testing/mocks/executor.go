package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/gaborage/alioli/transport"
)

// MockExecutor provides a testify-based mock implementation of transport.Executor.
type MockExecutor struct {
	mock.Mock
}

var _ transport.Executor = (*MockExecutor)(nil)

// Execute implements transport.Executor
func (m *MockExecutor) Execute(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	args := m.Called(ctx, req)
	if v := args.Get(0); v != nil {
		return v.(*transport.Response), args.Error(1)
	}
	return nil, args.Error(1)
}

// Outcome is one scripted result of a ScriptedExecutor.
type Outcome struct {
	Status int
	Err    error
}

// ScriptedExecutor answers requests from a per-URL script of outcomes and records every call.
// When a URL's script runs out, its last outcome repeats. Unknown URLs answer 404.
type ScriptedExecutor struct {
	mu      sync.Mutex
	scripts map[string][]Outcome
	calls   []*transport.Request
}

var _ transport.Executor = (*ScriptedExecutor)(nil)

// NewScriptedExecutor creates an executor with no scripts.
func NewScriptedExecutor() *ScriptedExecutor {
	return &ScriptedExecutor{scripts: make(map[string][]Outcome)}
}

// Script appends outcomes for url.
func (s *ScriptedExecutor) Script(url string, outcomes ...Outcome) *ScriptedExecutor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[url] = append(s.scripts[url], outcomes...)
	return s
}

// Execute implements transport.Executor
func (s *ScriptedExecutor) Execute(_ context.Context, req *transport.Request) (*transport.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req.Clone())

	script := s.scripts[req.URL]
	if len(script) == 0 {
		return &transport.Response{StatusCode: 404}, nil
	}
	next := script[0]
	if len(script) > 1 {
		s.scripts[req.URL] = script[1:]
	}
	if next.Err != nil {
		return nil, next.Err
	}
	return &transport.Response{StatusCode: next.Status}, nil
}

// Calls returns copies of every request seen so far.
func (s *ScriptedExecutor) Calls() []*transport.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*transport.Request(nil), s.calls...)
}

// CallsTo counts requests sent to url.
func (s *ScriptedExecutor) CallsTo(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.URL == url {
			n++
		}
	}
	return n
}
