package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/corewave-ai/voicegateway/dispatcher"
	"github.com/corewave-ai/voicegateway/hitl"
	"github.com/corewave-ai/voicegateway/retrieval"
	"github.com/corewave-ai/voicegateway/schema"
)

// Node names, used both as orchestration.Graph node identifiers and in
// o11y attributes.
const (
	NodeValidateSecurity   = "validateSecurity"
	NodeValidatePrivacy    = "validatePrivacy"
	NodeCheckResources     = "checkResources"
	NodeUnderstandIntent   = "understandIntent"
	NodeRetrieveKnowledge  = "retrieveKnowledge"
	NodeCheckClarification = "checkClarification"
	NodeAskClarification   = "askClarification"
	NodePlanFunctions      = "planFunctions"
	NodeExecuteSpeculative = "executeSpeculative"
	NodeConfirmActions     = "confirmActions"
	NodeExecuteFunctions   = "executeFunctions"
	NodeObserveResults     = "observeResults"
	NodeFinalize           = "finalize"
	NodeHandleError        = "handleError"
)

// speculativePrefixes names action-name prefixes executeSpeculative treats
// as side-effect-free (spec §4.7 executeSpeculative).
var speculativePrefixes = []string{"navigate_", "search_", "filter_", "sort_", "view_", "preview_", "load_"}

// transactionalToolNames names dispatcher actions observeResults treats as
// completing the turn on success (spec §4.7 observeResults (b)).
var transactionalToolNames = []string{"purchase", "book", "add_to_cart", "checkout"}

func hasSpeculativePrefix(name string) bool {
	for _, p := range speculativePrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func isTransactional(name string) bool {
	for _, t := range transactionalToolNames {
		if strings.Contains(name, t) {
			return true
		}
	}
	return false
}

// errorPending reports whether the turn carries an error that handleError has
// not yet processed. Every gated node's first outgoing edge (errEdge in
// graph.go) tests it after the node runs, so a node that sets Turn.Error
// routes to handleError next — this is how "handleError reachable from any
// decision" (spec §4.7) is expressed over the underlying graph engine's
// per-node outgoing edges.
func errorPending(s *execState) bool {
	return s.Turn.Error != nil && !s.Turn.ErrorRecoveryAttempted
}

// nodeValidateSecurity runs the input through C6's guard pipeline. A blocked
// result jumps to finalize with a policy-blocked message (spec §4.7).
func (d *Deps) nodeValidateSecurity() nodeFunc {
	return func(ctx context.Context, s *execState) (*execState, error) {
		s.Turn.OriginalInput = s.Turn.UserInput
		sanitized, err := d.Security.Validate(ctx, s.TenantID, s.Turn.UserInput)
		if err != nil {
			s.Turn.Error = err
			return s, nil
		}
		s.Turn.UserInput = sanitized
		return s, nil
	}
}

// nodeValidatePrivacy is the PII-redaction checkpoint. The guard pipeline
// already redacted and audited PII inside nodeValidateSecurity's Validate
// call; this node only asserts the invariant that OriginalInput survived for
// audit while UserInput carries the (possibly redacted) working copy.
func (d *Deps) nodeValidatePrivacy() nodeFunc {
	return func(_ context.Context, s *execState) (*execState, error) {
		if s.Turn.OriginalInput == "" {
			s.Turn.OriginalInput = s.Turn.UserInput
		}
		return s, nil
	}
}

// nodeCheckResources reserves an estimated token budget and one action
// credit; failure short-circuits to finalize with BUDGET_EXCEEDED (spec
// §4.7).
func (d *Deps) nodeCheckResources() nodeFunc {
	return func(ctx context.Context, s *execState) (*execState, error) {
		estimate := estimateTokens(s.Turn.UserInput)
		tokenRes, err := d.Budget.Reserve(ctx, s.TenantID, TokenResource, estimate)
		if err != nil {
			s.Turn.Error = err
			return s, nil
		}
		actionRes, err := d.Budget.Reserve(ctx, s.TenantID, ActionResource, 1)
		if err != nil {
			_ = d.Budget.Refund(ctx, tokenRes, estimate)
			s.Turn.Error = err
			return s, nil
		}
		s.tokenReservation = tokenRes
		s.tokenEstimate = estimate
		s.actionReservation = actionRes
		s.Turn.ResourceUsage.TokensReserved = estimate
		s.Turn.ResourceUsage.ActionsReserved = 1
		return s, nil
	}
}

// nodeUnderstandIntent classifies intent and fills a SlotFrame by keyword
// heuristics — this system has no LLM provider (DESIGN.md drops the
// teacher's multi-provider pkg/llms as out of scope), so intent and slot
// extraction here is a deliberately simple rule-based pass, not NLU.
func (d *Deps) nodeUnderstandIntent() nodeFunc {
	return func(_ context.Context, s *execState) (*execState, error) {
		lower := strings.ToLower(s.Turn.UserInput)
		intent, confidence := classifyIntent(lower)
		frame := &schema.SlotFrame{Intent: intent, Confidence: confidence, Slots: map[string]schema.SlotValue{}}

		now := time.Now()
		for _, slotName := range schema.CriticalSlotsForIntent(intent) {
			if val, ok := extractSlot(slotName, lower, now); ok {
				frame.Slots[slotName] = val
				frame.ResolvedSlots = append(frame.ResolvedSlots, slotName)
			} else {
				frame.MissingSlots = append(frame.MissingSlots, slotName)
			}
		}
		// venue_feature is never critical (no intent in
		// schema.CriticalSlotsForIntent names it) but still resolves when
		// present, carrying a preference like "by the sea" into planning.
		if val, ok := extractVenueFeature(lower); ok {
			frame.Slots["venue_feature"] = val
			frame.ResolvedSlots = append(frame.ResolvedSlots, "venue_feature")
		}

		s.Turn.Intent = &intent
		s.Turn.SlotFrame = frame
		s.Turn.DetectedLanguage = "en"
		return s, nil
	}
}

func classifyIntent(lower string) (schema.Intent, float64) {
	switch {
	case strings.Contains(lower, "ticket"):
		return schema.IntentBuyTickets, 0.85
	case strings.Contains(lower, "book ") || strings.Contains(lower, "appointment") || strings.Contains(lower, "reserve"):
		return schema.IntentBookService, 0.8
	case strings.Contains(lower, "find") || strings.Contains(lower, "shop") || strings.Contains(lower, "product") || strings.Contains(lower, "looking for"):
		return schema.IntentFindProducts, 0.75
	case strings.Contains(lower, "go to") || strings.Contains(lower, "navigate") || strings.Contains(lower, "show me"):
		return schema.IntentNavigation, 0.8
	default:
		return schema.IntentGetInformation, 0.5
	}
}

// extractSlot applies one narrow heuristic per critical slot name; a slot is
// "resolved" only when the heuristic finds explicit evidence in the
// utterance, matching spec §4.7's requirement that missing critical slots
// route to checkClarification rather than being silently guessed. now is the
// turn's reference time, threaded through rather than read from time.Now()
// here so season math is reproducible in tests.
func extractSlot(name, lower string, now time.Time) (schema.SlotValue, bool) {
	switch name {
	case "location":
		if strings.Contains(lower, "near me") {
			return schema.SlotValue{
				Raw: "near me", Normalized: schema.RelativeLocation{Type: "relative", RadiusKM: 25},
				Confidence: 0.6, Source: schema.SourceInference,
			}, true
		}
	case "quantity":
		for _, word := range strings.Fields(lower) {
			if n, err := strconv.Atoi(word); err == nil && n > 0 {
				return schema.SlotValue{
					Raw: word, Normalized: schema.ItemQuantity{Quantity: n, ItemType: itemTypeFor(lower)},
					Confidence: 0.9, Source: schema.SourceUserInput,
				}, true
			}
		}
	case "time":
		for _, season := range []string{"summer", "winter", "spring", "fall", "autumn"} {
			if strings.Contains(lower, season) {
				return schema.SlotValue{
					Raw: season, Normalized: seasonRange(season, now),
					Confidence: 0.6, Source: schema.SourceUserInput,
				}, true
			}
		}
		if strings.Contains(lower, "today") || strings.Contains(lower, "tonight") {
			day := now.Format("2006-01-02")
			return schema.SlotValue{
				Raw: "today", Normalized: schema.TimeRange{StartDate: day, EndDate: day},
				Confidence: 0.7, Source: schema.SourceUserInput,
			}, true
		}
	case "genre", "category", "serviceType":
		if primary, raw, ok := matchCategory(lower); ok {
			return schema.SlotValue{
				Raw: raw, Normalized: schema.Category{Primary: primary},
				Confidence: 0.75, Source: schema.SourceUserInput,
			}, true
		}
	case "price":
		if strings.Contains(lower, "$") || strings.Contains(lower, "cheap") || strings.Contains(lower, "budget") {
			return schema.SlotValue{Raw: "budget", Normalized: "low", Confidence: 0.5, Source: schema.SourceInference}, true
		}
	}
	return schema.SlotValue{}, false
}

// itemTypeFor guesses what a bare quantity counts from the surrounding
// utterance (spec §8 scenario 2's quantity:{quantity:2, itemType:"tickets"}).
func itemTypeFor(lower string) string {
	switch {
	case strings.Contains(lower, "ticket"):
		return "tickets"
	case strings.Contains(lower, "people") || strings.Contains(lower, "guests") || strings.Contains(lower, "person"):
		return "people"
	default:
		return "items"
	}
}

// categorySynonyms maps the genre/category/serviceType words a user actually
// says to the closed vocabulary planFunctions and retrieval filter against
// (spec §4.7). Checked in order, so multi-word phrases that contain a
// shorter entry's substring are listed first.
var categorySynonyms = []struct {
	phrase  string
	primary string
}{
	{"house music", "electronic"},
	{"edm", "electronic"},
	{"techno", "electronic"},
	{"electronics", "electronics"},
	{"electronic", "electronic"},
	{"hip hop", "hip_hop"},
	{"hip-hop", "hip_hop"},
	{"hiphop", "hip_hop"},
	{"rap", "hip_hop"},
	{"rock", "rock"},
	{"jazz", "jazz"},
	{"pop", "pop"},
	{"classical", "classical"},
	{"country", "country"},
	{"metal", "metal"},
	{"blues", "blues"},
	{"reggae", "reggae"},
	{"clothing", "clothing"},
	{"footwear", "footwear"},
	{"furniture", "furniture"},
	{"groceries", "groceries"},
	{"books", "books"},
	{"toys", "toys"},
	{"haircut", "haircut"},
	{"massage", "massage"},
	{"dental", "dental"},
	{"cleaning", "cleaning"},
	{"repair", "repair"},
}

func matchCategory(lower string) (primary, raw string, ok bool) {
	for _, syn := range categorySynonyms {
		if strings.Contains(lower, syn.phrase) {
			return syn.primary, syn.phrase, true
		}
	}
	return "", "", false
}

// venueFeaturePhrases maps a handful of venue-preference phrases to the
// structured feature value spec §8 scenario 2 expects alongside genre and
// location ("by the sea" -> waterfront).
var venueFeaturePhrases = []struct {
	phrase  string
	feature string
}{
	{"by the sea", "waterfront"},
	{"waterfront", "waterfront"},
	{"beachfront", "waterfront"},
	{"rooftop", "rooftop"},
	{"outdoor", "outdoor"},
}

func extractVenueFeature(lower string) (schema.SlotValue, bool) {
	for _, vf := range venueFeaturePhrases {
		if strings.Contains(lower, vf.phrase) {
			return schema.SlotValue{
				Raw: vf.phrase, Normalized: schema.Category{Primary: vf.feature},
				Confidence: 0.6, Source: schema.SourceInference,
			}, true
		}
	}
	return schema.SlotValue{}, false
}

// seasonRange converts a season word to a calendar date range for now's
// year using fixed equinox/solstice dates, applying the northern-hemisphere
// mapping since no caller in this system yet supplies the user's hemisphere
// (DESIGN.md Open Question (c)). A season named while its range is already
// in progress (e.g. "winter" mentioned in January) resolves to the range
// that started the previous year, not the one still to come.
func seasonRange(season string, now time.Time) schema.TimeRange {
	year := now.Year()
	switch season {
	case "spring":
		return schema.TimeRange{StartDate: isoDate(year, time.March, 20), EndDate: isoDate(year, time.June, 20)}
	case "summer":
		return schema.TimeRange{StartDate: isoDate(year, time.June, 21), EndDate: isoDate(year, time.September, 22)}
	case "fall", "autumn":
		return schema.TimeRange{StartDate: isoDate(year, time.September, 23), EndDate: isoDate(year, time.December, 20)}
	case "winter":
		if now.Month() < time.March || (now.Month() == time.March && now.Day() <= 19) {
			return schema.TimeRange{StartDate: isoDate(year-1, time.December, 21), EndDate: isoDate(year, time.March, 19)}
		}
		return schema.TimeRange{StartDate: isoDate(year, time.December, 21), EndDate: isoDate(year+1, time.March, 19)}
	default:
		return schema.TimeRange{}
	}
}

func isoDate(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}

// nodeRetrieveKnowledge invokes C5 with a query built from userInput plus
// high-confidence slot raw forms (spec §4.7).
func (d *Deps) nodeRetrieveKnowledge() nodeFunc {
	return func(ctx context.Context, s *execState) (*execState, error) {
		query := s.Turn.UserInput
		if s.Turn.SlotFrame != nil {
			for name, v := range s.Turn.SlotFrame.Slots {
				if v.Confidence >= 0.6 {
					query += " " + name + ":" + v.Raw
				}
			}
		}

		started := time.Now()
		result, err := d.Retrieval.Search(ctx, retrieval.Request{TenantID: s.TenantID, SiteID: s.SiteID, Query: query, TopK: 10})
		if err != nil {
			s.Turn.Error = err
			return s, nil
		}
		s.Turn.SearchResults = result.Items

		if d.Analytics != nil {
			_ = d.Analytics.SearchExecuted(ctx, s.TenantID, s.Turn.SessionID, query, len(result.Items), time.Since(started).Milliseconds())
		}
		return s, nil
	}
}

// nodeCheckClarification declares clarification needed whenever any critical
// slot is missing; no slot has a safe default that would stand in for it.
// MissingCritical already reflects the priority ordering spec §4.7 names per
// intent.
func (d *Deps) nodeCheckClarification() nodeFunc {
	return func(_ context.Context, s *execState) (*execState, error) {
		if s.Turn.SlotFrame == nil {
			return s, nil
		}
		s.Turn.NeedsClarification = len(s.Turn.SlotFrame.MissingCritical()) > 0
		return s, nil
	}
}

// nodeAskClarification emits a single focused question about the first
// missing critical slot; terminal for this turn (spec §4.7). The question
// carries no suggested values.
func (d *Deps) nodeAskClarification() nodeFunc {
	return func(_ context.Context, s *execState) (*execState, error) {
		missing := s.Turn.SlotFrame.MissingCritical()
		if len(missing) == 0 {
			return s, nil
		}
		slot := missing[0]
		s.Turn.Messages = append(s.Turn.Messages, schema.NewAIMessage(clarificationQuestion(slot)))
		return s, nil
	}
}

func clarificationQuestion(slot string) string {
	switch slot {
	case "time":
		return "When would you like this for?"
	case "location":
		return "Which location should I use?"
	case "quantity":
		return "How many would you like?"
	default:
		return fmt.Sprintf("Could you tell me the %s?", slot)
	}
}

// nodePlanFunctions produces an ordered actionPlan; items whose riskLevel is
// high force needsConfirmation (spec §4.7).
func (d *Deps) nodePlanFunctions() nodeFunc {
	return func(_ context.Context, s *execState) (*execState, error) {
		if s.Turn.SlotFrame == nil {
			s.Turn.ActionPlan = nil
			return s, nil
		}

		item := planItemForIntent(s.Turn.SlotFrame)
		d.applyActionMetadata(s.SiteID, &item)
		s.Turn.ActionPlan = []schema.ActionPlanItem{item}
		return s, nil
	}
}

// applyActionMetadata overrides planItemForIntent's intent-keyed defaults
// with the action's own registered side-effect/risk metadata when the site
// has one registered under that name: confirmation must follow what the
// action actually does, not a guess keyed off the intent name (spec §4.7
// planFunctions). Unregistered actions (including every test fixture that
// never calls dispatcher.Registry.Register) keep planItemForIntent's
// defaults.
func (d *Deps) applyActionMetadata(siteID string, item *schema.ActionPlanItem) {
	if d.Dispatcher == nil {
		return
	}
	action, ok := d.Dispatcher.Lookup(siteID, item.ActionName)
	if !ok {
		return
	}
	item.RiskLevel = action.RiskLevel
	item.NeedsConfirmation = action.SideEffect.RequiresConfirmation() || action.RiskLevel == schema.RiskHigh
}

func planItemForIntent(frame *schema.SlotFrame) schema.ActionPlanItem {
	params := map[string]any{}
	for name, v := range frame.Slots {
		params[name] = v.Normalized
	}

	switch frame.Intent {
	case schema.IntentBuyTickets:
		return schema.ActionPlanItem{ActionName: "purchase_tickets", Parameters: params, Reasoning: "user requested tickets", RiskLevel: schema.RiskHigh, Priority: 1, Critical: true, NeedsConfirmation: true}
	case schema.IntentBookService:
		return schema.ActionPlanItem{ActionName: "book_appointment", Parameters: params, Reasoning: "user requested a booking", RiskLevel: schema.RiskMedium, Priority: 1, Critical: true, NeedsConfirmation: true}
	case schema.IntentFindProducts:
		return schema.ActionPlanItem{ActionName: "search_products", Parameters: params, Reasoning: "user is browsing products", RiskLevel: schema.RiskLow, Priority: 1}
	case schema.IntentNavigation:
		return schema.ActionPlanItem{ActionName: "navigate_to_page", Parameters: params, Reasoning: "user requested navigation", RiskLevel: schema.RiskLow, Priority: 1}
	default:
		return schema.ActionPlanItem{ActionName: "search_knowledge_base", Parameters: params, Reasoning: "informational request", RiskLevel: schema.RiskLow, Priority: 1}
	}
}

// nodeExecuteSpeculative launches only side-effect-free, high-confidence
// actions into a shadow buffer (spec §4.7).
func (d *Deps) nodeExecuteSpeculative() nodeFunc {
	return func(ctx context.Context, s *execState) (*execState, error) {
		if s.Turn.SlotFrame == nil || s.Turn.SlotFrame.Confidence < 0.6 {
			return s, nil
		}
		s.Turn.SpeculativeResults = map[string]schema.ToolResult{}
		for _, item := range s.Turn.ActionPlan {
			if !hasSpeculativePrefix(item.ActionName) {
				continue
			}
			result, err := d.Dispatcher.Execute(ctx, actionRequest(s, item))
			if err != nil {
				continue
			}
			s.Turn.SpeculativeResults[item.ActionName] = result
		}
		return s, nil
	}
}

func actionRequest(s *execState, item schema.ActionPlanItem) dispatcher.ExecuteRequest {
	return dispatcher.ExecuteRequest{
		SiteID: s.SiteID, TenantID: s.TenantID, Subject: s.Subject,
		ActionName: item.ActionName, Parameters: item.Parameters,
	}
}

// nodeConfirmActions checks hitl auto-approval policies for any plan item
// requiring confirmation; if every such item auto-approves, execution
// proceeds directly, otherwise the turn ends waiting for the client's next
// confirmationReceived=true turn (spec §4.7).
func (d *Deps) nodeConfirmActions() nodeFunc {
	return func(ctx context.Context, s *execState) (*execState, error) {
		confidence := 0.5
		if s.Turn.SlotFrame != nil {
			confidence = s.Turn.SlotFrame.Confidence
		}

		allAutoApproved := true
		for _, item := range s.Turn.ActionPlan {
			if !item.NeedsConfirmation {
				continue
			}
			if d.HITL == nil {
				allAutoApproved = false
				break
			}
			approved, err := d.HITL.ShouldApprove(ctx, item.ActionName, confidence, toHITLRisk(item.RiskLevel))
			if err != nil || !approved {
				allAutoApproved = false
				break
			}
		}

		if allAutoApproved {
			s.Turn.ConfirmationReceived = true
			return s, nil
		}

		s.Turn.NeedsConfirmation = true
		s.Turn.Messages = append(s.Turn.Messages, schema.NewAIMessage(confirmationPrompt(s.Turn.ActionPlan)))
		return s, nil
	}
}

func confirmationPrompt(plan []schema.ActionPlanItem) string {
	if len(plan) == 0 {
		return "Should I proceed?"
	}
	return fmt.Sprintf("Should I go ahead with %s?", plan[0].ActionName)
}

func toHITLRisk(r schema.RiskLevel) hitl.RiskLevel {
	switch r {
	case schema.RiskHigh:
		return hitl.RiskIrreversible
	case schema.RiskMedium:
		return hitl.RiskDataModification
	default:
		return hitl.RiskReadOnly
	}
}

// nodeExecuteFunctions calls C8 for each plan item in priority order,
// honoring dependsOn; failures abort the batch only when the item is
// critical (spec §4.7).
func (d *Deps) nodeExecuteFunctions() nodeFunc {
	return func(ctx context.Context, s *execState) (*execState, error) {
		ordered := append([]schema.ActionPlanItem(nil), s.Turn.ActionPlan...)
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

		succeeded := map[string]bool{}
		for _, item := range ordered {
			if speculative, ok := s.Turn.SpeculativeResults[item.ActionName]; ok && !planDiverged(s) {
				s.Turn.ToolResults = append(s.Turn.ToolResults, speculative)
				succeeded[item.ActionName] = speculative.Success
				continue
			}

			if !dependenciesSatisfied(item, succeeded) {
				continue
			}

			result, err := d.Dispatcher.Execute(ctx, actionRequest(s, item))
			s.Turn.ToolResults = append(s.Turn.ToolResults, result)
			succeeded[item.ActionName] = result.Success

			if d.Analytics != nil {
				_ = d.Analytics.ToolExecuted(ctx, s.TenantID, s.Turn.SessionID, result)
			}

			if err != nil && item.Critical {
				s.Turn.Error = err
				break
			}
		}
		s.Turn.ToolLoops++
		return s, nil
	}
}

// planDiverged reports whether the confirmed plan no longer matches what
// executeSpeculative ran against, discarding the shadow buffer if so (spec
// §4.7). This orchestrator plans a single item per turn, so divergence can
// only mean the plan was cleared or replaced by handleError/re-planning —
// SpeculativeResults is nil in that case.
func planDiverged(s *execState) bool {
	return s.Turn.SpeculativeResults == nil
}

func dependenciesSatisfied(item schema.ActionPlanItem, succeeded map[string]bool) bool {
	for _, dep := range item.DependsOn {
		if !succeeded[dep] {
			return false
		}
	}
	return true
}

// nodeObserveResults applies the completion heuristics from spec §4.7,
// looping back to planFunctions (up to MaxToolLoops total cycles) when the
// turn is not yet complete.
func (d *Deps) nodeObserveResults() nodeFunc {
	return func(_ context.Context, s *execState) (*execState, error) {
		if taskComplete(s.Turn) {
			return s, nil
		}
		if s.Turn.ToolLoops >= MaxToolLoops {
			s.Turn.Error = schema.NewError("orchestrator.observe_results", schema.ErrMaxLoopsExceeded, "tool loop budget exhausted", nil)
		}
		return s, nil
	}
}

func taskComplete(turn *schema.TurnState) bool {
	if turn.Intent != nil && *turn.Intent == schema.IntentGetInformation {
		if len(turn.SearchResults) > 0 && turn.SearchResults[0].Score >= 0.7 {
			return true
		}
	}
	for _, r := range turn.ToolResults {
		if r.Success && isTransactional(r.ToolName) {
			return true
		}
	}
	if len(turn.ToolResults) > 0 && turn.ToolResults[len(turn.ToolResults)-1].Success && len(turn.ActionPlan) == len(turn.ToolResults) {
		return true
	}
	return len(turn.ToolResults) >= 10
}

// nodeFinalize appends the final response text (spec §4.7) and commits the
// turn's budget reservations. The top-3 citations and UI hints are attached
// later, by Handler.emitTurnResult.
func (d *Deps) nodeFinalize() nodeFunc {
	return func(ctx context.Context, s *execState) (*execState, error) {
		if s.tokenReservation != "" {
			actual := s.tokenEstimate
			if s.Turn.Error != nil {
				actual = s.tokenEstimate / 2
			}
			_ = d.Budget.Commit(ctx, s.tokenReservation, s.tokenEstimate, actual)
			s.Turn.ResourceUsage.TokensCommitted = actual
		}
		if s.actionReservation != "" {
			committed := 1
			if s.Turn.Error != nil {
				committed = 0
			}
			_ = d.Budget.Commit(ctx, s.actionReservation, 1, committed)
			s.Turn.ResourceUsage.ActionsCommitted = committed
		}

		s.Turn.Messages = append(s.Turn.Messages, schema.NewAIMessage(finalText(s.Turn)))

		if d.Analytics != nil {
			_ = d.Analytics.TurnCompleted(ctx, s.TenantID, s.Turn, s.startedAt)
		}
		return s, nil
	}
}

func finalText(turn *schema.TurnState) string {
	if turn.Error != nil {
		return "I ran into a problem completing that: " + turn.Error.Error()
	}
	for _, r := range turn.ToolResults {
		if r.Success {
			return fmt.Sprintf("Done — %s completed.", r.ToolName)
		}
	}
	if len(turn.SearchResults) > 0 {
		return turn.SearchResults[0].RelevantSnippet
	}
	return "I wasn't able to find anything for that."
}

// nodeHandleError selects a recovery strategy; a retry strategy clears the
// error so the turn can continue (spec §4.7).
func (d *Deps) nodeHandleError() nodeFunc {
	return func(_ context.Context, s *execState) (*execState, error) {
		s.Turn.ErrorRecoveryAttempted = true
		if schema.IsRetryable(s.Turn.Error) {
			s.Turn.ErrorRecoveryStrategy = "retry"
			s.Turn.Error = nil
			return s, nil
		}
		s.Turn.ErrorRecoveryStrategy = "ask_for_help"
		return s, nil
	}
}
