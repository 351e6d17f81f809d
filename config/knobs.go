package config

import "time"

// WebSocketKnobs tunes the gateway's heartbeat and idle-eviction behavior
// (spec §6).
type WebSocketKnobs struct {
	PingIntervalMs int `json:"pingIntervalMs" default:"15000" min:"1000"`
	MaxMissedPongs int `json:"maxMissedPongs" default:"3" min:"1"`
	IdleCloseMs    int `json:"idleCloseMs" default:"300000" min:"1000"`
}

// AudioKnobs bounds one inbound audio frame (spec §6).
type AudioKnobs struct {
	FrameMs       int `json:"frameMs" default:"20" min:"10" max:"40"`
	MaxFrameBytes int `json:"maxFrameBytes" default:"4096" min:"1"`
}

// RetrievalKnobs bounds C5's per-strategy fan-out (spec §6).
type RetrievalKnobs struct {
	SoftTimeoutMs int `json:"softTimeoutMs" default:"500" min:"1"`
	HardTimeoutMs int `json:"hardTimeoutMs" default:"1000" min:"1"`
}

// OrchestratorKnobs bounds one turn's execution (spec §6).
type OrchestratorKnobs struct {
	MaxToolLoops   int `json:"maxToolLoops" default:"3" min:"1" max:"10"`
	TurnDeadlineMs int `json:"turnDeadlineMs" default:"10000" min:"100"`
}

// BudgetDefaults holds default per-tenant budget values (spec §6
// budgets.defaults). No component in this module reads them; budget.Service
// limits are set through budget.Service.SetLimit.
type BudgetDefaults struct {
	TokensPerMonth int `json:"tokensPerMonth" default:"200000" min:"0"`
	ActionsPerHour int `json:"actionsPerHour" default:"1000" min:"0"`
}

// RateLimitKnobs mirrors security.Limits' four scopes (spec §6 rateLimits,
// §4.6 rate limits).
type RateLimitKnobs struct {
	TenantPerMinute  int `json:"tenantPerMinute" default:"1000" min:"0"`
	UserPerMinute    int `json:"userPerMinute" default:"100" min:"0"`
	IPPerMinute      int `json:"ipPerMinute" default:"50" min:"0"`
	SessionPerMinute int `json:"sessionPerMinute" default:"30" min:"0"`
}

// OutboxKnobs tunes C10's claim/publish/retry loop (spec §6).
type OutboxKnobs struct {
	BatchSize       int `json:"batchSize" default:"100" min:"1"`
	BackoffBaseMs   int `json:"backoffBaseMs" default:"1000" min:"1"`
	BackoffCapMs    int `json:"backoffCapMs" default:"30000" min:"1"`
	MaxAttempts     int `json:"maxAttempts" default:"5" min:"1"`
	StaleAfterHours int `json:"staleAfterHours" default:"24" min:"1"`
}

// Knobs is the full set of runtime parameters (spec §6 "Configuration
// knobs"), loaded once at startup via [Load] or [LoadFromEnv]. Nothing in
// this module re-reads them after startup; no [FileWatcher] is attached to
// the knobs file.
type Knobs struct {
	Environment    string   `json:"environment" default:"development"`
	AllowedOrigins []string `json:"allowedOrigins"`

	WebSocket    WebSocketKnobs    `json:"ws"`
	Audio        AudioKnobs        `json:"audio"`
	Retrieval    RetrievalKnobs    `json:"retrieval"`
	Orchestrator OrchestratorKnobs `json:"orchestrator"`
	Budgets      BudgetDefaults    `json:"budgets"`
	RateLimits   RateLimitKnobs    `json:"rateLimits"`
	Outbox       OutboxKnobs       `json:"outbox"`
}

func (k WebSocketKnobs) PingInterval() time.Duration {
	return time.Duration(k.PingIntervalMs) * time.Millisecond
}

func (k WebSocketKnobs) IdleClose() time.Duration {
	return time.Duration(k.IdleCloseMs) * time.Millisecond
}

func (k RetrievalKnobs) SoftTimeout() time.Duration {
	return time.Duration(k.SoftTimeoutMs) * time.Millisecond
}

func (k RetrievalKnobs) HardTimeout() time.Duration {
	return time.Duration(k.HardTimeoutMs) * time.Millisecond
}

func (k OrchestratorKnobs) TurnDeadline() time.Duration {
	return time.Duration(k.TurnDeadlineMs) * time.Millisecond
}

func (k OutboxKnobs) BackoffBase() time.Duration {
	return time.Duration(k.BackoffBaseMs) * time.Millisecond
}

func (k OutboxKnobs) BackoffCap() time.Duration {
	return time.Duration(k.BackoffCapMs) * time.Millisecond
}

func (k OutboxKnobs) StaleAfter() time.Duration {
	return time.Duration(k.StaleAfterHours) * time.Hour
}
