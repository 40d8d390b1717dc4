package notify

import (
	"context"
	"sync"
)

// MockSender records sent messages. It is used by tests and by the offline
// development profile to observe relay output.
type MockSender struct {
	mu     sync.Mutex
	maxLen int
	sent   []string
	err    error
	notify chan struct{}
}

// NewMockSender creates a MockSender that accepts messages up to maxLen bytes.
func NewMockSender(maxLen int) *MockSender {
	return &MockSender{maxLen: maxLen, notify: make(chan struct{}, 100)}
}

func (m *MockSender) Name() string { return "mock" }
func (m *MockSender) MaxLen() int  { return m.maxLen }

// Send records text, or returns the error set by SetError.
func (m *MockSender) Send(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, text)
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// SetError makes every later Send fail with err.
func (m *MockSender) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Sent returns a copy of every recorded message.
func (m *MockSender) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

// Notify receives a value after each recorded message.
func (m *MockSender) Notify() <-chan struct{} { return m.notify }
