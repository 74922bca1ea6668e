// Package testutil provides test doubles for the session daemon.
package testutil

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/GriffinCanCode/sessiond/internal/providers/terminal"
)

// ErrEndpointClosed is returned by writes to a closed FakeEndpoint.
var ErrEndpointClosed = errors.New("endpoint closed")

// FakeEndpoint is an in-memory terminal endpoint. Output is injected with
// Emit; with Echo set, every write is also emitted as output.
type FakeEndpoint struct {
	Echo bool

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	pending  []byte
	inputs   [][]byte
	sizes    []terminal.Size
	exitErr  error
	closedBy string
}

// NewFakeEndpoint creates an open endpoint
func NewFakeEndpoint(echo bool) *FakeEndpoint {
	return &FakeEndpoint{
		Echo: echo,
		out:  make(chan []byte, 1024),
		done: make(chan struct{}),
	}
}

// Emit queues bytes as if the far side produced them
func (e *FakeEndpoint) Emit(data []byte) {
	chunk := append([]byte(nil), data...)
	select {
	case e.out <- chunk:
	case <-e.done:
	}
}

// Hangup ends the stream as if the far side exited with err
func (e *FakeEndpoint) Hangup(err error) {
	e.finish("hangup", err)
}

func (e *FakeEndpoint) finish(by string, err error) {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.exitErr = err
		e.closedBy = by
		e.mu.Unlock()
		close(e.done)
	})
}

func (e *FakeEndpoint) Read(p []byte) (int, error) {
	e.mu.Lock()
	if len(e.pending) > 0 {
		n := copy(p, e.pending)
		e.pending = e.pending[n:]
		e.mu.Unlock()
		return n, nil
	}
	e.mu.Unlock()

	// Queued output wins over the end of stream
	select {
	case chunk := <-e.out:
		return e.deliver(p, chunk), nil
	default:
	}

	select {
	case chunk := <-e.out:
		return e.deliver(p, chunk), nil
	case <-e.done:
		select {
		case chunk := <-e.out:
			return e.deliver(p, chunk), nil
		default:
			return 0, io.EOF
		}
	}
}

func (e *FakeEndpoint) deliver(p, chunk []byte) int {
	n := copy(p, chunk)
	if n < len(chunk) {
		e.mu.Lock()
		e.pending = append(e.pending, chunk[n:]...)
		e.mu.Unlock()
	}
	return n
}

func (e *FakeEndpoint) Write(p []byte) (int, error) {
	if e.IsClosed() {
		return 0, ErrEndpointClosed
	}
	e.mu.Lock()
	e.inputs = append(e.inputs, append([]byte(nil), p...))
	e.mu.Unlock()

	if e.Echo {
		e.Emit(p)
	}
	return len(p), nil
}

func (e *FakeEndpoint) Resize(size terminal.Size) error {
	if e.IsClosed() {
		return ErrEndpointClosed
	}
	e.mu.Lock()
	e.sizes = append(e.sizes, size)
	e.mu.Unlock()
	return nil
}

func (e *FakeEndpoint) Close() error {
	e.finish("close", nil)
	return nil
}

// Wait blocks until the endpoint ends and returns the hangup error
func (e *FakeEndpoint) Wait() error {
	<-e.done
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exitErr
}

// IsClosed reports whether Close or Hangup was called
func (e *FakeEndpoint) IsClosed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// ClosedByCaller reports whether the endpoint was closed via Close
func (e *FakeEndpoint) ClosedByCaller() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closedBy == "close"
}

// Inputs returns every write received
func (e *FakeEndpoint) Inputs() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]byte(nil), e.inputs...)
}

// Sizes returns every resize received
func (e *FakeEndpoint) Sizes() []terminal.Size {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]terminal.Size(nil), e.sizes...)
}

// FakeSpawner hands out FakeEndpoints and records them
type FakeSpawner struct {
	Echo bool
	Err  error

	mu        sync.Mutex
	endpoints []*FakeEndpoint
	kinds     []terminal.Kind
}

// NewFakeSpawner creates a spawner whose endpoints echo input
func NewFakeSpawner() *FakeSpawner {
	return &FakeSpawner{Echo: true}
}

func (s *FakeSpawner) Spawn(ctx context.Context, kind terminal.Kind, size terminal.Size) (terminal.Endpoint, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	ep := NewFakeEndpoint(s.Echo)

	s.mu.Lock()
	s.endpoints = append(s.endpoints, ep)
	s.kinds = append(s.kinds, kind)
	s.mu.Unlock()

	return ep, nil
}

// Last returns the most recently spawned endpoint
func (s *FakeSpawner) Last() *FakeEndpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.endpoints) == 0 {
		return nil
	}
	return s.endpoints[len(s.endpoints)-1]
}

// Count returns how many endpoints were spawned
func (s *FakeSpawner) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.endpoints)
}

// MockSpawner is a testify mock of terminal.Spawner
type MockSpawner struct {
	mock.Mock
}

// Spawn mocks the Spawn method.
func (m *MockSpawner) Spawn(ctx context.Context, kind terminal.Kind, size terminal.Size) (terminal.Endpoint, error) {
	args := m.Called(ctx, kind, size)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(terminal.Endpoint), args.Error(1)
}

// NewMockSpawner creates a mock spawner that fails every call with err.
func NewMockSpawner(t *testing.T, err error) *MockSpawner {
	t.Helper()
	m := new(MockSpawner)
	m.On("Spawn", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, err).
		Maybe()
	return m
}
