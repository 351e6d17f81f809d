package schema

import "time"

// SideEffectClass classifies the blast radius of an action (spec §4.8).
type SideEffectClass string

const (
	EffectSafe        SideEffectClass = "safe"
	EffectRead        SideEffectClass = "read"
	EffectWrite       SideEffectClass = "write"
	EffectDestructive SideEffectClass = "destructive"
)

// RequiresConfirmation reports whether this side-effect class alone puts an
// action behind the confirm-before-execute gate (spec §4.7 planFunctions,
// §4.8, §8's "no write/destructive action executes before
// confirmationReceived=true" invariant), independent of its risk level.
func (c SideEffectClass) RequiresConfirmation() bool {
	return c == EffectWrite || c == EffectDestructive
}

// RiskLevel classifies the risk of executing an action (spec §4.7/§4.8).
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// riskOrder gives RiskLevel a total order for comparisons (e.g. "elevate
// low to medium when security risk is high", spec §4.7 planFunctions).
var riskOrder = map[RiskLevel]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2}

// Exceeds reports whether r is strictly riskier than other.
func (r RiskLevel) Exceeds(other RiskLevel) bool {
	return riskOrder[r] > riskOrder[other]
}

// ActionPlanItem is one step of the orchestrator's actionPlan (spec §4.7
// planFunctions).
type ActionPlanItem struct {
	ActionName        string
	Parameters        map[string]any
	Reasoning         string
	RiskLevel         RiskLevel
	Priority          int
	DependsOn         []string
	Critical          bool
	NeedsConfirmation bool
}

// ToolResult is the outcome of executing one ActionPlanItem (spec §3).
type ToolResult struct {
	ToolName    string
	Input       map[string]any
	Output      any
	Success     bool
	Error       string
	StartedAt   time.Time
	DurationMs  int64
	SideEffects []string
}
