package gateway

import (
	"sync"
	"time"

	"github.com/corewave-ai/voicegateway/schema"
)

// HeartbeatInterval is how often the gateway pings a connected session
// (spec §4.4).
const HeartbeatInterval = 15 * time.Second

// pongGrace is how long a session has to answer a ping before it counts as
// missed: two heartbeat intervals, per spec §4.4.
const pongGrace = 2 * HeartbeatInterval

// Registry is the read-mostly concurrent map of live sessions the gateway
// maintains (spec §5's "session registry: read-mostly concurrent map").
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Session pairs the connection-agnostic schema.VoiceSession state with the
// outbound fan-out channel the websocket writer loop drains.
type Session struct {
	mu    sync.Mutex
	State schema.VoiceSession
	Out   chan any
	done  chan struct{}
}

// newSession creates a Session in the initializing state.
func newSession(sessionID string, auth schema.Auth, now time.Time) *Session {
	return &Session{
		State: schema.VoiceSession{
			SessionID:      sessionID,
			Auth:           auth,
			State:          schema.SessionInitializing,
			LastActivityAt: now,
			PingDeadline:   now.Add(pongGrace),
		},
		Out:  make(chan any, 256),
		done: make(chan struct{}),
	}
}

// Attach registers a new Session under sessionID, replacing any prior
// session with the same ID.
func (r *Registry) Attach(sessionID string, auth schema.Auth, now time.Time) *Session {
	s := newSession(sessionID, auth, now)
	r.mu.Lock()
	r.sessions[sessionID] = s
	r.mu.Unlock()
	return s
}

// Get returns the session for sessionID, or nil if none is attached.
func (r *Registry) Get(sessionID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID]
}

// Detach removes sessionID from the registry and closes its done channel,
// releasing anything select-blocked on it.
func (r *Registry) Detach(sessionID string) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	if ok {
		close(s.done)
	}
}

// Len reports the number of attached sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll detaches every session, closing each one's done channel. Used on
// gateway shutdown (spec §4.4 closeAll).
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	for _, s := range sessions {
		close(s.done)
	}
}

// Done returns a channel closed when the session is detached.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Send enqueues an outbound event, never blocking: if the outbound queue is
// saturated, the event is dropped rather than stalling the read loop (spec
// §4.4 backpressure contract).
func (s *Session) Send(evt any) bool {
	select {
	case s.Out <- evt:
		return true
	default:
		return false
	}
}

// Touch records activity and extends the pong deadline.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State.LastActivityAt = now
	s.State.MissedPongs = 0
	s.State.PingDeadline = now.Add(pongGrace)
}

// RecordMissedPong increments the missed-pong counter and reports whether
// the session has now exceeded schema.MaxMissedPongs.
func (s *Session) RecordMissedPong() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State.MissedPongs++
	return s.State.MissedPongs > schema.MaxMissedPongs
}

// Transition moves the session to a new state, recording first-audio-token
// timing when entering speaking for the first time in a turn.
func (s *Session) Transition(to schema.SessionState, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if to == schema.SessionSpeaking && s.State.FirstTokenAt == nil {
		t := now
		s.State.FirstTokenAt = &t
	}
	if to == schema.SessionListening {
		s.State.FirstTokenAt = nil
	}
	s.State.State = to
}

// CurrentState returns a snapshot of the session's state.
func (s *Session) CurrentState() schema.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State.State
}
