package realtime

import (
	"context"
	"sync"

	"github.com/corewave-ai/voicegateway/schema"
)

// MockProvider is an in-memory Provider for tests and local development. It
// records every call it receives and lets a test script feed Events back
// through the returned channel.
type MockProvider struct {
	mu sync.Mutex

	ConnectErr error
	FailTimes  int // number of leading Connect calls that return ConnectErr

	connectCalls int
	sentAudio    []*schema.AudioFrame
	sentText     []string
	cancelled    []string
	closed       []string

	events chan Event
}

// NewMockProvider creates a MockProvider with a buffered event channel.
func NewMockProvider() *MockProvider {
	return &MockProvider{events: make(chan Event, 32)}
}

// Emit pushes an Event onto the channel returned by the most recent Connect.
func (m *MockProvider) Emit(e Event) {
	m.events <- e
}

func (m *MockProvider) Connect(ctx context.Context, sessionID string, auth schema.Auth) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connectCalls++
	if m.connectCalls <= m.FailTimes {
		return nil, m.ConnectErr
	}
	return m.events, nil
}

func (m *MockProvider) SendAudio(ctx context.Context, sessionID string, f *schema.AudioFrame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentAudio = append(m.sentAudio, f)
	return nil
}

func (m *MockProvider) SendText(ctx context.Context, sessionID string, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentText = append(m.sentText, text)
	return nil
}

func (m *MockProvider) Cancel(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, sessionID)
	return nil
}

func (m *MockProvider) Close(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, sessionID)
	return nil
}

// ConnectCalls reports how many times Connect has been invoked.
func (m *MockProvider) ConnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCalls
}

// SentAudio returns the frames passed to SendAudio, in order.
func (m *MockProvider) SentAudio() []*schema.AudioFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*schema.AudioFrame, len(m.sentAudio))
	copy(out, m.sentAudio)
	return out
}

// Cancelled returns the session IDs passed to Cancel, in order.
func (m *MockProvider) Cancelled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.cancelled))
	copy(out, m.cancelled)
	return out
}
