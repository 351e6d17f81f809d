package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/corewave-ai/voicegateway/schema"
)

// fakeStore is an in-memory Store fake for table-driven tests, matching the
// teacher's fakes-over-mocks test convention (DESIGN.md).
type fakeStore struct {
	mu            sync.Mutex
	records       map[string]*schema.OutboxRecord
	backoffBaseMs int64
	backoffCapMs  int64
	now           func() time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:       make(map[string]*schema.OutboxRecord),
		backoffBaseMs: 1000,
		backoffCapMs:  30000,
		now:           time.Now,
	}
}

func (f *fakeStore) put(r *schema.OutboxRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	f.records[r.ID] = &cp
}

func (f *fakeStore) get(id string) *schema.OutboxRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

func (f *fakeStore) ClaimBatch(_ context.Context, limit int) ([]*schema.OutboxRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	var eligible []*schema.OutboxRecord
	for _, r := range f.records {
		if r.Status != schema.OutboxPending {
			continue
		}
		if r.Attempts > 0 && r.LastAttemptAt != nil {
			wait := schema.NextBackoff(r.Attempts, f.backoffBaseMs, f.backoffCapMs)
			if now.Before(r.LastAttemptAt.Add(wait)) {
				continue
			}
		}
		eligible = append(eligible, r)
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].CreatedAt.Before(eligible[j].CreatedAt) })
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	out := make([]*schema.OutboxRecord, 0, len(eligible))
	for _, r := range eligible {
		r.Status = schema.OutboxPublishing
		t := now
		r.LastAttemptAt = &t
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) MarkPublished(_ context.Context, id string, publishedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return nil
	}
	r.Status = schema.OutboxPublished
	r.PublishedAt = &publishedAt
	return nil
}

func (f *fakeStore) MarkRetry(_ context.Context, id string, attempts int, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return nil
	}
	r.Status = schema.OutboxPending
	r.Attempts = attempts
	r.Error = errMsg
	return nil
}

func (f *fakeStore) MarkDeadLetter(_ context.Context, id string, attempts int, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return nil
	}
	r.Status = schema.OutboxDeadLetter
	r.Attempts = attempts
	r.Error = errMsg
	return nil
}

func (f *fakeStore) ReclaimStalePublishing(_ context.Context, leaseAge time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	var n int64
	for _, r := range f.records {
		if r.Status == schema.OutboxPublishing && r.LastAttemptAt != nil && now.Sub(*r.LastAttemptAt) >= leaseAge {
			r.Status = schema.OutboxPending
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CountStalePending(_ context.Context, staleAfter time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	var n int64
	for _, r := range f.records {
		if r.Status == schema.OutboxPending && now.Sub(r.CreatedAt) >= staleAfter {
			n++
		}
	}
	return n, nil
}

var _ Store = (*fakeStore)(nil)
