// Package eventbus implements the target-agnostic event publication surface
// (C11): a narrow Publish capability the outbox publisher drives, backed by
// NATS JetStream for durable fan-out and idempotent redelivery.
package eventbus

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Sink is the capability set spec §4.11 names: publish a payload to a topic
// under a dedup key, with transport-specific headers. Implementations must
// be idempotent by key — republishing the same key must not produce a
// second delivery to consumers.
type Sink interface {
	Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error
	Close() error
}

// PublishError classifies a publish failure as retriable or permanent, the
// distinction C10 needs to decide between backoff-and-retry and an
// immediate dead-letter (spec §4.11: "unless the sink returns an explicit
// PERMANENT class").
type PublishError struct {
	Err       error
	Permanent bool
}

func (e *PublishError) Error() string { return e.Err.Error() }
func (e *PublishError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a PublishError marked permanent.
func IsPermanent(err error) bool {
	var pe *PublishError
	return asPublishError(err, &pe) && pe.Permanent
}

func asPublishError(err error, out **PublishError) bool {
	pe, ok := err.(*PublishError)
	if ok {
		*out = pe
	}
	return ok
}

// JetStreamSink publishes to a NATS JetStream stream, using the JetStream
// "Nats-Msg-Id" header as the idempotency key: JetStream's dedup window
// silently discards a redelivered message carrying a key it has already
// seen, so a caller retrying a publish after an ambiguous failure (e.g. a
// timeout whose ack never arrived) cannot produce a duplicate downstream
// delivery.
type JetStreamSink struct {
	js nats.JetStreamContext
}

// NewJetStreamSink wraps an established JetStreamContext. The caller owns
// stream creation/configuration; this sink only publishes.
func NewJetStreamSink(js nats.JetStreamContext) *JetStreamSink {
	return &JetStreamSink{js: js}
}

// Publish sends payload to topic, setting the dedup header to key. An
// invalid or bad subject and an invalid JetStream ack are classified as
// permanent, since retrying them would fail identically; every other error
// (e.g. nats.ErrNoResponders or a context deadline) is retriable.
func (s *JetStreamSink) Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error {
	msg := nats.NewMsg(topic)
	msg.Data = payload
	msg.Header.Set(nats.MsgIdHdr, key)
	for k, v := range headers {
		msg.Header.Set(k, v)
	}

	_, err := s.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return &PublishError{Err: fmt.Errorf("eventbus: publish %q: %w", topic, err), Permanent: isPermanent(err)}
	}
	return nil
}

// Close is a no-op: the JetStreamContext's underlying connection is owned
// and closed by whoever constructed it.
func (s *JetStreamSink) Close() error { return nil }

func isPermanent(err error) bool {
	switch err {
	case nats.ErrInvalidSubject, nats.ErrBadSubject, nats.ErrInvalidJSAck:
		return true
	default:
		return false
	}
}

// ensure JetStreamSink implements Sink at compile time.
var _ Sink = (*JetStreamSink)(nil)
