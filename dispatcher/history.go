package dispatcher

import "sync"

// historySize caps the retained execution history per site (spec §4.8:
// "retained to N=1000").
const historySize = 1000

// history is a fixed-capacity, per-site ring buffer of ToolExecution
// records, guarded by a single mutex across all sites.
type history struct {
	mu   sync.Mutex
	byID map[string][]ToolExecution
}

func newHistory() *history {
	return &history{byID: make(map[string][]ToolExecution)}
}

func (h *history) record(siteID string, e ToolExecution) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := h.byID[siteID]
	entries = append(entries, e)
	if len(entries) > historySize {
		entries = entries[len(entries)-historySize:]
	}
	h.byID[siteID] = entries
}

// Recent returns up to n of the most recent executions for siteID, newest
// last.
func (h *history) Recent(siteID string, n int) []ToolExecution {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := h.byID[siteID]
	if n <= 0 || n > len(entries) {
		n = len(entries)
	}
	out := make([]ToolExecution, n)
	copy(out, entries[len(entries)-n:])
	return out
}
