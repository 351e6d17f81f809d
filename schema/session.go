package schema

import "time"

// SessionState is the voice session's lifecycle state (spec §4.4).
type SessionState string

const (
	SessionInitializing SessionState = "initializing"
	SessionListening    SessionState = "listening"
	SessionProcessing   SessionState = "processing"
	SessionSpeaking     SessionState = "speaking"
	SessionPaused       SessionState = "paused"
	SessionEnded        SessionState = "ended"
	SessionError        SessionState = "error"
)

// Auth carries the claims extracted from the voice JWT by identity.Verify,
// plus the connecting client's IP (filled in by the gateway, not a claim),
// used together as the four rate-limit scopes of spec §4.6/§8 scenario 4.
type Auth struct {
	TenantID string
	SiteID   string
	UserID   string
	Locale   string
	IP       string
}

// VoiceSession is the in-memory, per-WS-connection record owned exclusively
// by the gateway (spec §3's Ownership note); C3 and C7 hold only its
// sessionId, a weak handle, never a pointer.
type VoiceSession struct {
	SessionID       string
	Auth            Auth
	State           SessionState
	IsRecording     bool
	LastActivityAt  time.Time
	PingDeadline    time.Time
	FirstTokenAt    *time.Time
	TotalFramesIn   uint64
	TotalFramesOut  uint64
	ProviderHandle  string
	MissedPongs     int
}

// IdleTimeout is the maximum time a session may go without activity before
// the gateway destroys it (spec §3).
const IdleTimeout = 5 * time.Minute

// MaxMissedPongs is the number of consecutive missed heartbeat pongs that
// close a session with PING_TIMEOUT (spec §4.4).
const MaxMissedPongs = 3

// Expired reports whether the session has been idle past IdleTimeout or has
// missed too many heartbeat pongs, as of now.
func (s *VoiceSession) Expired(now time.Time) bool {
	if s.MissedPongs > MaxMissedPongs {
		return true
	}
	return now.Sub(s.LastActivityAt) > IdleTimeout
}
