package realtime

import (
	"context"
	"time"

	"github.com/corewave-ai/voicegateway/o11y"
	"github.com/corewave-ai/voicegateway/schema"
)

// ReconnectBackoff is the fixed backoff schedule spec §4.3 specifies: up to
// 3 reconnection attempts at 250ms, 500ms, 1s.
var ReconnectBackoff = []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second}

// ReconnectingProvider wraps a Provider's Connect call with the bounded
// reconnect policy from spec §4.3: on transport error, retry with the
// schedule above; on exhaustion, surface PROVIDER_UNAVAILABLE.
type ReconnectingProvider struct {
	Provider
}

// Connect attempts to connect, retrying on failure per ReconnectBackoff.
// ctx cancellation aborts the retry loop immediately.
func (r *ReconnectingProvider) Connect(ctx context.Context, sessionID string, auth schema.Auth) (<-chan Event, error) {
	var lastErr error
	ch, err := r.Provider.Connect(ctx, sessionID, auth)
	if err == nil {
		return ch, nil
	}
	lastErr = err

	log := o11y.FromContext(ctx)
	for attempt, delay := range ReconnectBackoff {
		log.Warn(ctx, "realtime provider reconnect attempt",
			"session_id", sessionID, "attempt", attempt+1, "delay", delay, "error", lastErr)

		select {
		case <-ctx.Done():
			return nil, schema.NewError("realtime.connect", schema.ErrProviderUnavailable, "context cancelled during reconnect", ctx.Err())
		case <-time.After(delay):
		}

		ch, err = r.Provider.Connect(ctx, sessionID, auth)
		if err == nil {
			return ch, nil
		}
		lastErr = err
	}

	return nil, schema.NewError("realtime.connect", schema.ErrProviderUnavailable, "exhausted reconnect attempts", lastErr)
}
