package schema

// Intent is the set of recognized user intents (spec §3).
type Intent string

const (
	IntentBuyTickets      Intent = "buy_tickets"
	IntentBookService     Intent = "book_service"
	IntentFindProducts    Intent = "find_products"
	IntentGetInformation  Intent = "get_information"
	IntentNavigation      Intent = "navigation"
)

// SlotSource identifies how a SlotValue was populated.
type SlotSource string

const (
	SourceUserInput SlotSource = "user_input"
	SourceContext   SlotSource = "context"
	SourceInference SlotSource = "inference"
	SourceDefault   SlotSource = "default"
)

// SlotValue is a single filled or inferred slot.
type SlotValue struct {
	Raw               string
	Normalized        any
	Confidence        float64
	Source            SlotSource
	NeedsConfirmation bool
}

// TimeRange is the normalized value for a "time" slot resolved from a
// relative period such as a season or "today" (spec §4.7, §8 scenario 2).
type TimeRange struct {
	StartDate string
	EndDate   string
}

// RelativeLocation is the normalized value for a "location" slot resolved
// from a relative phrase such as "near me" (spec §4.7, §8 scenario 2).
type RelativeLocation struct {
	Type     string
	RadiusKM int
}

// Category is the normalized value for a genre/category/serviceType slot
// resolved through a synonym table rather than a raw noun phrase (spec §4.7,
// §8 scenario 2).
type Category struct {
	Primary string
}

// ItemQuantity is the normalized value for a "quantity" slot, pairing the
// count with what it counts (spec §4.7, §8 scenario 2).
type ItemQuantity struct {
	Quantity int
	ItemType string
}

// SlotFrame is the structured intent+slot representation produced by
// understandIntent (spec §3, §4.7).
type SlotFrame struct {
	Intent         Intent
	Confidence     float64
	Slots          map[string]SlotValue
	MissingSlots   []string
	ResolvedSlots  []string
	Constraints    []string
}

// criticalSlots lists, per intent, the slots that must be resolved before
// clarification can be skipped (spec §4.7 checkClarification priority
// ordering).
var criticalSlots = map[Intent][]string{
	IntentBuyTickets:     {"time", "quantity", "location", "genre"},
	IntentFindProducts:   {"category", "location", "price"},
	IntentBookService:    {"serviceType", "time", "location"},
}

// CriticalSlotsForIntent returns the ordered list of slots that are
// considered critical for the given intent. Intents with no registered
// critical-slot list (get_information, navigation) return nil: no slot is
// critical enough to force clarification.
func CriticalSlotsForIntent(intent Intent) []string {
	return criticalSlots[intent]
}

// Valid checks the SlotFrame invariants from spec §3: resolved and missing
// slots are disjoint, and every critical slot for the frame's intent is
// accounted for in one of the two lists.
func (f *SlotFrame) Valid() bool {
	resolved := make(map[string]bool, len(f.ResolvedSlots))
	for _, s := range f.ResolvedSlots {
		resolved[s] = true
	}
	missing := make(map[string]bool, len(f.MissingSlots))
	for _, s := range f.MissingSlots {
		if resolved[s] {
			return false
		}
		missing[s] = true
	}
	for _, critical := range CriticalSlotsForIntent(f.Intent) {
		if !resolved[critical] && !missing[critical] {
			return false
		}
	}
	return true
}

// MissingCritical returns the critical slots for the frame's intent that are
// present in MissingSlots, in priority order; an empty result means no
// critical slot is missing. It only evaluates presence in MissingSlots and
// applies no safe-default check.
func (f *SlotFrame) MissingCritical() []string {
	missing := make(map[string]bool, len(f.MissingSlots))
	for _, s := range f.MissingSlots {
		missing[s] = true
	}
	var out []string
	for _, critical := range CriticalSlotsForIntent(f.Intent) {
		if missing[critical] {
			out = append(out, critical)
		}
	}
	return out
}
