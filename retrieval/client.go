// Package retrieval implements the hybrid retrieval client (C5): parallel
// vector/full-text/structured strategies fused by reciprocal-rank fusion
// with a minimum-consensus floor, under soft/hard timeouts.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/corewave-ai/voicegateway/o11y"
	"github.com/corewave-ai/voicegateway/schema"
)

// Strategy identifies one retrieval backend.
type Strategy string

const (
	StrategyVector     Strategy = "vector"
	StrategyFulltext   Strategy = "fulltext"
	StrategyStructured Strategy = "structured"
)

// DefaultStrategies is the full strategy set used when a request doesn't
// restrict itself to a subset.
var DefaultStrategies = []Strategy{StrategyVector, StrategyFulltext, StrategyStructured}

// SoftTimeout and HardTimeout bound query fan-out (spec §4.5).
const (
	SoftTimeout = 500 * time.Millisecond
	HardTimeout = 1000 * time.Millisecond
)

// MinConsensus is the default minimum number of strategies that must agree
// on an item (by ID) for reciprocal-rank fusion to retain it confidently;
// items below consensus are still returned, ranked lower.
const MinConsensus = 2

// rrfK is the reciprocal-rank-fusion damping constant.
const rrfK = 60.0

// Request is one hybrid retrieval query.
type Request struct {
	TenantID   string
	SiteID     string
	Query      string
	TopK       int
	Locale     string
	Strategies []Strategy
}

// StrategyStats reports the fan-out outcome.
type StrategyStats struct {
	TotalExecuted int
	TimedOut      bool
}

// FusionStats reports the fusion outcome.
type FusionStats struct {
	CombinedCount int
}

// Result is the fused response shape spec §4.5 names.
type Result struct {
	Items      []schema.SearchResult
	Strategies StrategyStats
	Fusion     FusionStats
}

// Backend executes one strategy's query and returns ranked results in
// descending relevance order.
type Backend interface {
	Search(ctx context.Context, req Request) ([]schema.SearchResult, error)
}

// Client fans a Request out to its configured Backends and fuses the
// results with reciprocal-rank fusion.
type Client struct {
	backends map[Strategy]Backend
	cache    *Cache
}

// Option configures a Client.
type Option func(*Client)

// WithCache attaches a Cache for short-TTL query caching.
func WithCache(c *Cache) Option {
	return func(cl *Client) { cl.cache = c }
}

// NewClient creates a Client with one Backend per Strategy it supports.
func NewClient(backends map[Strategy]Backend, opts ...Option) *Client {
	c := &Client{backends: backends}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search executes req across its requested strategies (or DefaultStrategies
// if unset), fusing results by reciprocal-rank fusion. Once SoftTimeout
// elapses it stops waiting and returns the fused results of whatever
// strategies have completed, marking Strategies.TimedOut; HardTimeout bounds
// the backend calls themselves through their context.
func (c *Client) Search(ctx context.Context, req Request) (Result, error) {
	if c.cache != nil {
		key := CacheKey(req)
		if cached, ok := c.cache.Get(key); ok {
			return cached, nil
		}
		res, err := c.cache.Do(key, func() (Result, error) { return c.search(ctx, req) })
		if err == nil {
			c.cache.Set(key, res)
		}
		return res, err
	}
	return c.search(ctx, req)
}

func (c *Client) search(ctx context.Context, req Request) (Result, error) {
	strategies := req.Strategies
	if len(strategies) == 0 {
		strategies = DefaultStrategies
	}

	hardCtx, cancel := context.WithTimeout(ctx, HardTimeout)
	defer cancel()

	type outcome struct {
		strategy Strategy
		items    []schema.SearchResult
		err      error
	}

	resultCh := make(chan outcome, len(strategies))
	for _, strat := range strategies {
		backend, ok := c.backends[strat]
		if !ok {
			continue
		}
		go func(strat Strategy, backend Backend) {
			items, err := backend.Search(hardCtx, req)
			resultCh <- outcome{strategy: strat, items: items, err: err}
		}(strat, backend)
	}

	expected := 0
	for _, strat := range strategies {
		if _, ok := c.backends[strat]; ok {
			expected++
		}
	}

	softTimer := time.NewTimer(SoftTimeout)
	defer softTimer.Stop()

	log := o11y.FromContext(ctx)
	perStrategy := make(map[Strategy][]schema.SearchResult, expected)
	executed := 0
	timedOut := false

collect:
	for executed < expected {
		select {
		case out := <-resultCh:
			executed++
			if out.err != nil {
				log.Warn(ctx, "retrieval: strategy failed", "strategy", string(out.strategy), "error", out.err)
				continue
			}
			perStrategy[out.strategy] = out.items
		case <-softTimer.C:
			timedOut = true
			break collect
		case <-hardCtx.Done():
			timedOut = true
			break collect
		}
	}

	items, combined := fuse(perStrategy, req.TopK)
	return Result{
		Items:      items,
		Strategies: StrategyStats{TotalExecuted: executed, TimedOut: timedOut},
		Fusion:     FusionStats{CombinedCount: combined},
	}, nil
}

// fuse applies reciprocal-rank fusion across each strategy's ranked list,
// returning the top topK items by fused score. Items matching fewer than
// MinConsensus strategies are still included but rank below items meeting
// consensus, reflecting spec §4.5's "minimum-consensus k".
func fuse(perStrategy map[Strategy][]schema.SearchResult, topK int) ([]schema.SearchResult, int) {
	type scored struct {
		item       schema.SearchResult
		score      float64
		matchCount int
	}
	agg := make(map[string]*scored)

	for _, ranked := range perStrategy {
		for rank, item := range ranked {
			s, ok := agg[item.ID]
			if !ok {
				s = &scored{item: item}
				agg[item.ID] = s
			}
			s.score += 1.0 / (rrfK + float64(rank+1))
			s.matchCount++
			if len(item.RelevantSnippet) > 200 {
				s.item.RelevantSnippet = item.RelevantSnippet[:200]
			}
		}
	}

	out := make([]*scored, 0, len(agg))
	for _, s := range agg {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		iConsensus := out[i].matchCount >= MinConsensus
		jConsensus := out[j].matchCount >= MinConsensus
		if iConsensus != jConsensus {
			return iConsensus
		}
		return out[i].score > out[j].score
	})

	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}

	items := make([]schema.SearchResult, len(out))
	for i, s := range out {
		item := s.item
		item.Score = s.score
		items[i] = item
	}
	return items, len(agg)
}

// CacheKey derives the Cache key for req (spec §4.5:
// "(tenantId, siteId, hash(query), locale)").
func CacheKey(req Request) string {
	sum := sha256.Sum256([]byte(req.Query))
	return req.TenantID + "|" + req.SiteID + "|" + hex.EncodeToString(sum[:8]) + "|" + req.Locale
}
