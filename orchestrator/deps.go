// Package orchestrator implements the universal agent orchestrator (C7): a
// checkpointed state machine that carries one conversational turn through
// security/privacy gating, resource budgeting, intent understanding, hybrid
// retrieval, planning, speculative and confirmed execution, and response
// assembly (spec §4.7), grounded on the teacher's orchestration.Graph engine
// and voice-backend session/persistence shapes.
package orchestrator

import (
	"math"
	"time"

	"github.com/corewave-ai/voicegateway/analytics"
	"github.com/corewave-ai/voicegateway/budget"
	"github.com/corewave-ai/voicegateway/dispatcher"
	"github.com/corewave-ai/voicegateway/hitl"
	"github.com/corewave-ai/voicegateway/retrieval"
	"github.com/corewave-ai/voicegateway/schema"
	"github.com/corewave-ai/voicegateway/security"
)

// TokenResource and ActionResource name the two budget.Service resource
// types checkResources reserves against (spec §4.9 keys: tenantId,
// resourceType).
const (
	TokenResource  = "tokens"
	ActionResource = "actions"
)

// MaxToolLoops bounds planFunctions -> executeFunctions -> observeResults
// cycles per turn (spec §4.7 observeResults).
const MaxToolLoops = 3

// DefaultTurnDeadline is the per-turn cancellation deadline (spec §5).
const DefaultTurnDeadline = 10 * time.Second

// estimateTokens applies spec §4.7 checkResources' estimator:
// ceil(chars/3.5) + 800.
func estimateTokens(input string) int {
	return int(math.Ceil(float64(len(input))/3.5)) + 800
}

// Deps bundles every collaborator a turn's graph traversal needs. All fields
// are required except Analytics and HITL, which may be left nil; a nil HITL
// auto-approves no plan item that needs confirmation.
type Deps struct {
	Security    *security.Service
	Retrieval   *retrieval.Client
	Dispatcher  *dispatcher.Dispatcher
	Budget      *budget.Service
	HITL        hitl.Manager
	Analytics   *analytics.Emitter
	Checkpoints CheckpointStore
}

// execState is the value that flows through the orchestration.Graph for one
// turn. It wraps schema.TurnState (the spec-defined checkpointed record)
// with the tenant/site/subject scoping and in-flight budget reservation ids
// a single turn's execution needs but which spec §3 does not list as
// TurnState fields — keeping them here instead of on TurnState keeps the
// checkpointed record exactly the shape spec §3 describes.
type execState struct {
	Turn     *schema.TurnState
	TenantID string
	SiteID   string
	Subject  string

	tokenReservation  string
	tokenEstimate     int
	actionReservation string

	startedAt time.Time
}
