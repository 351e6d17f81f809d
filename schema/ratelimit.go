package schema

import "time"

// RateLimitBucket is a minute-aligned atomic counter keyed by scope
// (tenant/user/ip/session) (spec §3, §4.6).
type RateLimitBucket struct {
	Key     string
	Count   int
	ResetAt time.Time
}

// Scope identifies which rate-limit dimension a bucket belongs to.
type Scope string

const (
	ScopeTenant  Scope = "tenant"
	ScopeUser    Scope = "user"
	ScopeIP      Scope = "ip"
	ScopeSession Scope = "session"
)

// DefaultLimits are the per-minute defaults from spec §4.6/§6.
var DefaultLimits = map[Scope]int{
	ScopeTenant:  1000,
	ScopeUser:    100,
	ScopeIP:      50,
	ScopeSession: 30,
}

// MinuteWindow truncates t to the start of its minute, the alignment used
// for rate-limit bucket keys and reset times.
func MinuteWindow(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}
