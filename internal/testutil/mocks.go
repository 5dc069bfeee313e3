package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/core"
)

// MockCall records a call to the mock.
type MockCall struct {
	Method    string
	Args      interface{}
	Timestamp time.Time
}

// StatusResult is one scripted FetchStatus answer.
type StatusResult struct {
	Status *core.RemoteStatus
	Err    error
}

// MockRemote implements core.RemoteExecutor for testing. FetchStatus answers
// are scripted per handle; once a script is exhausted the last answer repeats.
type MockRemote struct {
	startFunc  func(context.Context, core.StartRequest) (string, error)
	cancelFunc func(context.Context, string) error
	healthErr  error
	scripts    map[string][]StatusResult
	last       map[string]StatusResult
	seq        int
	calls      []MockCall
	mu         sync.Mutex
}

// NewMockRemote creates a mock whose Start returns conv-1, conv-2, ...
func NewMockRemote() *MockRemote {
	return &MockRemote{
		scripts: make(map[string][]StatusResult),
		last:    make(map[string]StatusResult),
		calls:   make([]MockCall, 0),
	}
}

// Start mocks conversation creation.
func (m *MockRemote) Start(ctx context.Context, req core.StartRequest) (string, error) {
	m.recordCall("Start", req)
	m.mu.Lock()
	fn := m.startFunc
	m.seq++
	handle := fmt.Sprintf("conv-%d", m.seq)
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return handle, nil
}

// FetchStatus pops the next scripted answer for handle.
func (m *MockRemote) FetchStatus(ctx context.Context, handle string) (*core.RemoteStatus, error) {
	m.recordCall("FetchStatus", handle)
	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.last[handle]
	if queue := m.scripts[handle]; len(queue) > 0 {
		res, ok = queue[0], true
		m.scripts[handle] = queue[1:]
		m.last[handle] = res
	}
	if !ok {
		return &core.RemoteStatus{Status: core.RunStatusRunning}, nil
	}
	if res.Err != nil {
		return nil, res.Err
	}
	cp := *res.Status
	return &cp, nil
}

// Cancel mocks the remote stop call.
func (m *MockRemote) Cancel(ctx context.Context, handle string) error {
	m.recordCall("Cancel", handle)
	m.mu.Lock()
	fn := m.cancelFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, handle)
	}
	return nil
}

// Health mocks the health probe.
func (m *MockRemote) Health(ctx context.Context) error {
	m.recordCall("Health", nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthErr
}

// WithStartFunc sets a custom start function.
func (m *MockRemote) WithStartFunc(fn func(context.Context, core.StartRequest) (string, error)) *MockRemote {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startFunc = fn
	return m
}

// WithStartError makes every Start fail.
func (m *MockRemote) WithStartError(err error) *MockRemote {
	return m.WithStartFunc(func(context.Context, core.StartRequest) (string, error) {
		return "", err
	})
}

// WithCancelFunc sets a custom cancel function.
func (m *MockRemote) WithCancelFunc(fn func(context.Context, string) error) *MockRemote {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelFunc = fn
	return m
}

// WithHealthError makes Health fail.
func (m *MockRemote) WithHealthError(err error) *MockRemote {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthErr = err
	return m
}

// QueueStatus appends a successful FetchStatus answer for handle.
func (m *MockRemote) QueueStatus(handle string, status core.RunStatus, percent int) *MockRemote {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[handle] = append(m.scripts[handle], StatusResult{Status: &core.RemoteStatus{
		Status:  status,
		Percent: percent,
		Raw:     map[string]interface{}{"status": string(status), "percent": percent},
	}})
	return m
}

// QueueError appends a failing FetchStatus answer for handle.
func (m *MockRemote) QueueError(handle string, err error) *MockRemote {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[handle] = append(m.scripts[handle], StatusResult{Err: err})
	return m
}

// Calls returns recorded calls.
func (m *MockRemote) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall{}, m.calls...)
}

// CallCount returns number of calls to a method.
func (m *MockRemote) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Reset clears call history.
func (m *MockRemote) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make([]MockCall, 0)
}

func (m *MockRemote) recordCall(method string, args interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method:    method,
		Args:      args,
		Timestamp: time.Now(),
	})
}

var _ core.RemoteExecutor = (*MockRemote)(nil)
