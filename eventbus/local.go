package eventbus

import (
	"context"
	"sync"
)

// LocalSink is an in-memory Sink for single-process deployments and tests.
// It tracks published keys to honour the idempotent-by-key contract without
// a broker.
type LocalSink struct {
	mu        sync.Mutex
	seen      map[string]bool
	published []Published
	closed    bool
}

// Published records one accepted publish call, retained for test
// assertions.
type Published struct {
	Topic   string
	Key     string
	Payload []byte
	Headers map[string]string
}

// NewLocalSink creates an empty LocalSink.
func NewLocalSink() *LocalSink {
	return &LocalSink{seen: make(map[string]bool)}
}

// Publish records the call. A repeated key is accepted but not re-recorded,
// matching the dedup behaviour consumers would see from a real broker.
func (s *LocalSink) Publish(_ context.Context, topic, key string, payload []byte, headers map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &PublishError{Err: errClosed, Permanent: true}
	}
	if s.seen[key] {
		return nil
	}
	s.seen[key] = true
	s.published = append(s.published, Published{Topic: topic, Key: key, Payload: payload, Headers: headers})
	return nil
}

// Close marks the sink closed; further Publish calls fail permanently.
func (s *LocalSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Published returns a snapshot of every distinct key accepted so far, in
// publish order.
func (s *LocalSink) Published() []Published {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Published, len(s.published))
	copy(out, s.published)
	return out
}

var errClosed = sinkClosedError{}

type sinkClosedError struct{}

func (sinkClosedError) Error() string { return "eventbus: sink is closed" }

var _ Sink = (*LocalSink)(nil)
