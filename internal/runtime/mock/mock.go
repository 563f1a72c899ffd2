// ABOUTME: Mock runtime client for tests and local development.
// ABOUTME: Serves canned snapshots and records remediation calls without a real engine.

package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/docksentry/docksentry/internal/runtime"
	"github.com/docksentry/docksentry/internal/types"
)

// ErrNoSuchContainer is returned for container ids the mock does not know.
var ErrNoSuchContainer = errors.New("no such container")

// Call records one remediation invocation against the mock.
type Call struct {
	Op          string // "stop", "remove", "kill"
	ContainerID string
	Process     string
}

// MockClient implements runtime.Client against in-memory state.
type MockClient struct {
	mutex     sync.Mutex
	snapshots map[string]*types.ContainerSnapshot
	calls     []Call

	// FailOps makes the named operations return an error.
	FailOps map[string]error

	events chan runtime.Event
	errs   chan error
}

// NewMockClient creates an empty mock runtime.
func NewMockClient() *MockClient {
	return &MockClient{
		snapshots: make(map[string]*types.ContainerSnapshot),
		FailOps:   make(map[string]error),
		events:    make(chan runtime.Event, 64),
		errs:      make(chan error, 1),
	}
}

// AddContainer registers a snapshot served by Inspect.
func (m *MockClient) AddContainer(snapshot *types.ContainerSnapshot) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.snapshots[snapshot.ID] = snapshot
}

// Emit pushes an event onto the mock stream.
func (m *MockClient) Emit(ev runtime.Event) {
	m.events <- ev
}

// CloseStream ends the mock event stream.
func (m *MockClient) CloseStream() {
	close(m.events)
	close(m.errs)
}

// Calls returns the remediation calls recorded so far.
func (m *MockClient) Calls() []Call {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockClient) record(op, containerID, process string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.calls = append(m.calls, Call{Op: op, ContainerID: containerID, Process: process})
}

func (m *MockClient) Events(ctx context.Context) (<-chan runtime.Event, <-chan error) {
	return m.events, m.errs
}

func (m *MockClient) Inspect(ctx context.Context, containerID string) (*types.ContainerSnapshot, error) {
	if err := m.FailOps["inspect"]; err != nil {
		return nil, err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	snapshot, ok := m.snapshots[containerID]
	if !ok {
		return nil, ErrNoSuchContainer
	}
	return snapshot, nil
}

func (m *MockClient) Stop(ctx context.Context, containerID string, graceSeconds int) error {
	if err := m.FailOps["stop"]; err != nil {
		return err
	}
	m.record("stop", containerID, "")
	return nil
}

func (m *MockClient) Remove(ctx context.Context, containerID string) error {
	if err := m.FailOps["remove"]; err != nil {
		return err
	}
	m.record("remove", containerID, "")
	return nil
}

func (m *MockClient) KillProcess(ctx context.Context, containerID, processName string) error {
	if err := m.FailOps["kill"]; err != nil {
		return err
	}
	m.record("kill", containerID, processName)
	return nil
}

func (m *MockClient) Ping(ctx context.Context) error {
	return m.FailOps["ping"]
}

func (m *MockClient) Version(ctx context.Context) (string, error) {
	if err := m.FailOps["version"]; err != nil {
		return "", err
	}
	return "mock", nil
}
