package schema

// ResourceUsage tracks what a turn has reserved/spent against the budget
// service (C9) so observeResults and finalize can report counters.
type ResourceUsage struct {
	TokensReserved  int
	TokensCommitted int
	ActionsReserved int
	ActionsCommitted int
}

// TurnState is the single mutable record owned exclusively by the
// orchestrator (C7) and checkpointed per sessionId (spec §3). Every
// orchestrator node reads and writes a subset of these fields; no other
// component mutates it directly.
type TurnState struct {
	SessionID       string
	Messages        []Message
	UserInput       string
	OriginalInput   string // pre-redaction; never leaves the orchestrator
	DetectedLanguage string

	Intent    *Intent
	SlotFrame *SlotFrame

	SearchResults []SearchResult
	ActionPlan    []ActionPlanItem
	ToolResults   []ToolResult

	NeedsClarification   bool
	NeedsConfirmation    bool
	ConfirmationReceived bool

	Error                 error
	ErrorRecoveryAttempted bool
	ErrorRecoveryStrategy  string

	ResourceUsage ResourceUsage

	// ToolLoops counts planFunctions -> executeFunctions -> observeResults
	// cycles within this turn (spec §4.7 observeResults: max 3 per turn).
	ToolLoops int

	// SpeculativeResults is the shadow buffer for executeSpeculative output,
	// discarded if the confirmed plan diverges (spec §4.7, glossary).
	SpeculativeResults map[string]ToolResult
}

// SearchResult is one item returned by the hybrid retrieval client (C5),
// mirrored here so TurnState can hold retrieval output without importing
// the retrieval package (which itself depends on schema).
type SearchResult struct {
	ID              string
	Content         string
	URL             string
	Title           string
	Score           float64
	RelevantSnippet string
	Metadata        map[string]any
}
