package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corewave-ai/voicegateway/schema"
)

type stubBackend struct {
	items []schema.SearchResult
	delay time.Duration
	err   error
}

func (s stubBackend) Search(ctx context.Context, req Request) ([]schema.SearchResult, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.items, nil
}

func TestClient_FusesOverlappingResultsAboveNonOverlapping(t *testing.T) {
	c := NewClient(map[Strategy]Backend{
		StrategyVector:   stubBackend{items: []schema.SearchResult{{ID: "a", Content: "alpha"}, {ID: "b", Content: "bravo"}}},
		StrategyFulltext: stubBackend{items: []schema.SearchResult{{ID: "a", Content: "alpha"}, {ID: "c", Content: "charlie"}}},
	})

	res, err := c.Search(context.Background(), Request{TenantID: "t1", SiteID: "s1", Query: "q", TopK: 10})
	require.NoError(t, err)
	require.NotEmpty(t, res.Items)
	assert.Equal(t, "a", res.Items[0].ID, "item appearing in both strategies should rank first")
	assert.Equal(t, 2, res.Strategies.TotalExecuted)
}

func TestClient_SkipsFailedStrategy(t *testing.T) {
	c := NewClient(map[Strategy]Backend{
		StrategyVector:   stubBackend{items: []schema.SearchResult{{ID: "a"}}},
		StrategyFulltext: stubBackend{err: errors.New("boom")},
	})

	res, err := c.Search(context.Background(), Request{TenantID: "t1", SiteID: "s1", Query: "q"})
	require.NoError(t, err)
	assert.Len(t, res.Items, 1)
}

func TestClient_MarksTimedOutOnSoftTimeout(t *testing.T) {
	c := NewClient(map[Strategy]Backend{
		StrategyVector: stubBackend{items: []schema.SearchResult{{ID: "a"}}, delay: SoftTimeout + 200*time.Millisecond},
	})

	res, err := c.Search(context.Background(), Request{TenantID: "t1", SiteID: "s1", Query: "q"})
	require.NoError(t, err)
	assert.True(t, res.Strategies.TimedOut)
}

func TestClient_CachesResults(t *testing.T) {
	calls := 0
	c := NewClient(map[Strategy]Backend{
		StrategyVector: countingBackend{count: &calls},
	}, WithCache(NewCache()))

	req := Request{TenantID: "t1", SiteID: "s1", Query: "same query"}
	_, err := c.Search(context.Background(), req)
	require.NoError(t, err)
	_, err = c.Search(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "second search with identical key should hit the cache")
}

type countingBackend struct {
	count *int
}

func (c countingBackend) Search(ctx context.Context, req Request) ([]schema.SearchResult, error) {
	*c.count++
	return []schema.SearchResult{{ID: "a"}}, nil
}

func TestCacheKey_VariesByTenantSiteQueryLocale(t *testing.T) {
	a := CacheKey(Request{TenantID: "t1", SiteID: "s1", Query: "hi", Locale: "en"})
	b := CacheKey(Request{TenantID: "t2", SiteID: "s1", Query: "hi", Locale: "en"})
	assert.NotEqual(t, a, b)
}

func TestFuse_TruncatesSnippetTo200Chars(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	items, _ := fuse(map[Strategy][]schema.SearchResult{
		StrategyVector: {{ID: "a", RelevantSnippet: string(long)}},
	}, 10)
	require.Len(t, items, 1)
	assert.LessOrEqual(t, len(items[0].RelevantSnippet), 200)
}
