// Package llmtest provides model client doubles for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/fyrsmithlabs/excelmind/internal/llm"
)

// MockClient is a testify mock of llm.Client.
type MockClient struct {
	mock.Mock
}

// Send implements llm.Client.
func (m *MockClient) Send(ctx context.Context, req llm.Request) (*llm.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.Response), args.Error(1)
}

// Step is one scripted reply: a response or an error.
type Step struct {
	Response *llm.Response
	Err      error
}

// Scripted replays steps in order and records every request. Once the
// script runs out it keeps returning the last step.
type Scripted struct {
	mu       sync.Mutex
	steps    []Step
	requests []llm.Request
}

// NewScripted creates a Scripted client.
func NewScripted(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

// Reply is shorthand for a successful step.
func Reply(resp *llm.Response) Step { return Step{Response: resp} }

// Fail is shorthand for a failing step.
func Fail(err error) Step { return Step{Err: err} }

// Send implements llm.Client.
func (s *Scripted) Send(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	if len(s.steps) == 0 {
		return nil, fmt.Errorf("llmtest: no scripted responses")
	}
	i := len(s.requests) - 1
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	step := s.steps[i]
	return step.Response, step.Err
}

// Calls returns how many requests were made.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Requests returns a copy of every request received.
func (s *Scripted) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Request, len(s.requests))
	copy(out, s.requests)
	return out
}
