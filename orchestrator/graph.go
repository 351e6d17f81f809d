package orchestrator

import (
	"github.com/corewave-ai/voicegateway/orchestration"
)

// condition is the predicate shape orchestration.Edge expects, narrowed to
// execState so every condition below reads as plain TurnState logic.
func condition(f func(s *execState) bool) func(any) bool {
	return func(v any) bool {
		s, ok := v.(*execState)
		return ok && f(s)
	}
}

func condErrorPending() func(any) bool {
	return condition(errorPending)
}

// BuildGraphs constructs the two orchestration.Graph instances a Deps needs:
// full (a fresh turn, entry=validateSecurity) and resume (a turn continuing
// after the client answered a pending confirmation, entry=executeFunctions).
// Both share the same node instances — node functions are stateless closures
// over Deps, so reuse across graphs is safe (spec §4.7: "two traversal entry
// points over one node set").
func (d *Deps) BuildGraphs() (full, resume *orchestration.Graph, err error) {
	nodes := map[string]nodeFunc{
		NodeValidateSecurity:   d.nodeValidateSecurity(),
		NodeValidatePrivacy:    d.nodeValidatePrivacy(),
		NodeCheckResources:     d.nodeCheckResources(),
		NodeUnderstandIntent:   d.nodeUnderstandIntent(),
		NodeRetrieveKnowledge:  d.nodeRetrieveKnowledge(),
		NodeCheckClarification: d.nodeCheckClarification(),
		NodeAskClarification:   d.nodeAskClarification(),
		NodePlanFunctions:      d.nodePlanFunctions(),
		NodeExecuteSpeculative: d.nodeExecuteSpeculative(),
		NodeConfirmActions:     d.nodeConfirmActions(),
		NodeExecuteFunctions:   d.nodeExecuteFunctions(),
		NodeObserveResults:     d.nodeObserveResults(),
		NodeFinalize:           d.nodeFinalize(),
		NodeHandleError:        d.nodeHandleError(),
	}

	full = orchestration.NewGraph()
	resume = orchestration.NewGraph()
	for name, fn := range nodes {
		if err := full.AddNode(name, fn); err != nil {
			return nil, nil, err
		}
		if err := resume.AddNode(name, fn); err != nil {
			return nil, nil, err
		}
	}

	if err := wireEdges(full); err != nil {
		return nil, nil, err
	}
	if err := wireEdges(resume); err != nil {
		return nil, nil, err
	}

	if err := full.SetEntry(NodeValidateSecurity); err != nil {
		return nil, nil, err
	}
	// A resumed turn already passed security/privacy/resource/intent/planning
	// gating on the turn that asked for confirmation; the client's reply only
	// needs to flow straight into execution (spec §4.7 confirmActions:
	// "terminal until the next turn").
	if err := resume.SetEntry(NodeExecuteFunctions); err != nil {
		return nil, nil, err
	}

	return full, resume, nil
}

// errEdge adds the errorPending->handleError edge every non-terminal,
// non-handleError node carries, so handleError is reachable from any
// decision point in the graph (spec §4.7).
func errEdge(g *orchestration.Graph, from string) error {
	return g.AddEdge(orchestration.Edge{From: from, To: NodeHandleError, Condition: condErrorPending()})
}

func wireEdges(g *orchestration.Graph) error {
	type step struct {
		from string
		to   string
	}
	linear := []step{
		{NodeValidateSecurity, NodeValidatePrivacy},
		{NodeValidatePrivacy, NodeCheckResources},
		{NodeCheckResources, NodeUnderstandIntent},
		{NodeUnderstandIntent, NodeRetrieveKnowledge},
		{NodeRetrieveKnowledge, NodeCheckClarification},
		{NodePlanFunctions, NodeExecuteSpeculative},
		{NodeExecuteSpeculative, NodeConfirmActions},
	}

	gated := append([]string{}, NodeValidateSecurity, NodeValidatePrivacy, NodeCheckResources,
		NodeUnderstandIntent, NodeRetrieveKnowledge, NodeCheckClarification, NodeAskClarification,
		NodePlanFunctions, NodeExecuteSpeculative, NodeConfirmActions, NodeExecuteFunctions, NodeObserveResults)
	for _, from := range gated {
		if err := errEdge(g, from); err != nil {
			return err
		}
	}

	for _, s := range linear {
		if err := g.AddEdge(orchestration.Edge{From: s.from, To: s.to}); err != nil {
			return err
		}
	}

	// checkClarification: missing critical slots -> askClarification (and
	// stop there, pending the client's answer); otherwise -> planFunctions.
	if err := g.AddEdge(orchestration.Edge{
		From: NodeCheckClarification, To: NodeAskClarification,
		Condition: condition(func(s *execState) bool { return s.Turn.NeedsClarification }),
	}); err != nil {
		return err
	}
	if err := g.AddEdge(orchestration.Edge{From: NodeCheckClarification, To: NodePlanFunctions}); err != nil {
		return err
	}

	// confirmActions: auto-approved or already confirmed -> executeFunctions;
	// otherwise the turn is terminal, waiting on the client's next message
	// (spec §4.7 confirmActions).
	if err := g.AddEdge(orchestration.Edge{
		From: NodeConfirmActions, To: NodeExecuteFunctions,
		Condition: condition(func(s *execState) bool { return s.Turn.ConfirmationReceived }),
	}); err != nil {
		return err
	}

	if err := g.AddEdge(orchestration.Edge{From: NodeExecuteFunctions, To: NodeObserveResults}); err != nil {
		return err
	}

	// observeResults: not yet complete -> loop back to planFunctions (the
	// errorPending gate above already catches MAX_LOOPS_EXCEEDED); complete
	// -> finalize.
	if err := g.AddEdge(orchestration.Edge{
		From: NodeObserveResults, To: NodePlanFunctions,
		Condition: condition(func(s *execState) bool { return !taskComplete(s.Turn) }),
	}); err != nil {
		return err
	}
	if err := g.AddEdge(orchestration.Edge{From: NodeObserveResults, To: NodeFinalize}); err != nil {
		return err
	}

	// handleError: a cleared, retryable error resumes planning; anything
	// else routes straight to finalize with the error message intact.
	if err := g.AddEdge(orchestration.Edge{
		From: NodeHandleError, To: NodePlanFunctions,
		Condition: condition(func(s *execState) bool { return s.Turn.ErrorRecoveryStrategy == "retry" }),
	}); err != nil {
		return err
	}
	return g.AddEdge(orchestration.Edge{From: NodeHandleError, To: NodeFinalize})
}
