// Package compress fits an aggregated context list into a token budget.
// Three strategies are supported: truncate keeps input order, score_based
// keeps the highest-scored items with an option to force-keep the most
// recent short-term turns, and mmr trades score against redundancy via
// maximal marginal relevance.
package compress

import (
	"fmt"
	"sort"
	"time"

	"github.com/AgonDise/memory-layer-lab/aggregate"
	"github.com/AgonDise/memory-layer-lab/embedding"
	"github.com/AgonDise/memory-layer-lab/memory"
)

// Strategy selects the compression policy.
type Strategy string

const (
	Truncate   Strategy = "truncate"
	ScoreBased Strategy = "score_based"
	MMR        Strategy = "mmr"
)

// DefaultLambda balances score against redundancy in MMR selection.
const DefaultLambda = 0.7

// Item is one aggregated entry entering compression. CreatedAt orders
// short-term items for the preserve-recent rule; zero is fine for the
// other tiers.
type Item struct {
	Source    string
	Content   string
	Score     float64
	Base      float64
	Relevance float64
	Embedding []float32
	CreatedAt time.Time
	Metadata  map[string]string
}

// CompressedItem is a kept item. Truncated marks content cut to fit a
// budget smaller than the item itself.
type CompressedItem struct {
	Item
	Tokens    int  `json:"tokens"`
	Truncated bool `json:"truncated,omitempty"`
}

// Result reports what survived compression.
type Result struct {
	Items            []CompressedItem `json:"items"`
	Strategy         Strategy         `json:"strategy"`
	OriginalTokens   int              `json:"original_tokens"`
	TotalTokens      int              `json:"total_tokens"`
	CompressionRatio float64          `json:"compression_ratio"`
	ItemsKept        int              `json:"items_kept"`
	ItemsRemoved     int              `json:"items_removed"`
}

// Compressor applies a token budget to aggregated items.
type Compressor struct {
	estimate memory.TokenEstimator
	lambda   float64
}

// Option configures the compressor.
type Option func(*Compressor)

// WithTokenEstimator replaces the chars/4 estimator.
func WithTokenEstimator(est memory.TokenEstimator) Option {
	return func(c *Compressor) { c.estimate = est }
}

// WithLambda sets the MMR score/redundancy balance.
func WithLambda(lambda float64) Option {
	return func(c *Compressor) { c.lambda = lambda }
}

// New creates a compressor.
func New(opts ...Option) *Compressor {
	c := &Compressor{
		estimate: memory.EstimateTokens,
		lambda:   DefaultLambda,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromAggregate adapts aggregator output for compression. Embeddings and
// timestamps are not carried by aggregate results, so callers that need
// mmr or preserve-recent attach them afterwards.
func FromAggregate(results []aggregate.Result) []Item {
	items := make([]Item, len(results))
	for i, r := range results {
		items[i] = Item{
			Source:    r.Source,
			Content:   r.Content,
			Score:     r.FinalScore,
			Base:      r.BaseScore,
			Relevance: r.RelevanceScore,
			Metadata:  r.Metadata,
		}
	}
	return items
}

// Compress fits items into maxTokens per the strategy. preserveRecent
// applies to score_based only: that many most-recent short-term items are
// forcibly kept, displacing the lowest-scored other items if necessary.
// A zero budget yields an empty result with ratio 0. When the first
// accepted item alone exceeds the budget its content is cut to a budget
// prefix and flagged Truncated.
func (c *Compressor) Compress(items []Item, maxTokens int, strategy Strategy, preserveRecent int) (Result, error) {
	if maxTokens < 0 {
		return Result{}, fmt.Errorf("compress: negative budget %d: %w", maxTokens, memory.ErrInvalidArgument)
	}

	original := 0
	for _, it := range items {
		original += c.estimate(it.Content)
	}
	res := Result{Strategy: strategy, OriginalTokens: original}

	if maxTokens == 0 || len(items) == 0 {
		res.ItemsRemoved = len(items)
		return res, nil
	}

	var kept []CompressedItem
	switch strategy {
	case Truncate:
		kept = c.truncate(items, maxTokens)
	case ScoreBased:
		kept = c.scoreBased(items, maxTokens, preserveRecent)
	case MMR:
		kept = c.mmr(items, maxTokens)
	default:
		return Result{}, fmt.Errorf("compress strategy %q: %w", strategy, memory.ErrInvalidArgument)
	}

	res.Items = kept
	res.ItemsKept = len(kept)
	res.ItemsRemoved = len(items) - len(kept)
	for _, it := range kept {
		res.TotalTokens += it.Tokens
	}
	if original > 0 {
		res.CompressionRatio = float64(res.TotalTokens) / float64(original)
	}
	return res, nil
}

// truncate accepts items in input order until the budget runs out.
func (c *Compressor) truncate(items []Item, maxTokens int) []CompressedItem {
	var kept []CompressedItem
	used := 0
	for _, it := range items {
		tokens := c.estimate(it.Content)
		if used+tokens > maxTokens {
			if len(kept) == 0 {
				kept = append(kept, c.cut(it, maxTokens))
			}
			break
		}
		kept = append(kept, CompressedItem{Item: it, Tokens: tokens})
		used += tokens
	}
	return kept
}

// scoreBased greedily keeps the highest-scored items that fit, then
// forces in the preserveRecent most-recent short-term items, evicting the
// lowest-scored non-protected items to make room.
func (c *Compressor) scoreBased(items []Item, maxTokens, preserveRecent int) []CompressedItem {
	order := make([]Item, len(items))
	copy(order, items)
	sort.SliceStable(order, func(i, j int) bool { return order[i].Score > order[j].Score })

	protected := recentSTM(items, preserveRecent)

	var kept []CompressedItem
	used := 0
	for _, it := range order {
		tokens := c.estimate(it.Content)
		if used+tokens > maxTokens {
			if len(kept) == 0 && len(protected) == 0 {
				return []CompressedItem{c.cut(it, maxTokens)}
			}
			continue
		}
		kept = append(kept, CompressedItem{Item: it, Tokens: tokens})
		used += tokens
	}

	for _, want := range protected {
		if containsContent(kept, want) {
			continue
		}
		tokens := c.estimate(want.Content)
		for used+tokens > maxTokens {
			idx := lowestEvictable(kept, protected)
			if idx < 0 {
				break
			}
			used -= kept[idx].Tokens
			kept = append(kept[:idx], kept[idx+1:]...)
		}
		if used+tokens > maxTokens {
			if len(kept) == 0 {
				kept = append(kept, c.cut(want, maxTokens))
				used = maxTokens
			}
			continue
		}
		kept = append(kept, CompressedItem{Item: want, Tokens: tokens})
		used += tokens
	}
	return kept
}

// mmr iteratively selects the candidate maximizing
// lambda*score - (1-lambda)*max cosine to the accepted set, skipping
// candidates that no longer fit.
func (c *Compressor) mmr(items []Item, maxTokens int) []CompressedItem {
	remaining := make([]Item, len(items))
	copy(remaining, items)

	var kept []CompressedItem
	used := 0
	for len(remaining) > 0 {
		best := -1
		bestValue := 0.0
		for i, cand := range remaining {
			redundancy := 0.0
			for _, sel := range kept {
				if cand.Embedding == nil || sel.Embedding == nil {
					continue
				}
				if sim, err := embedding.Similarity(cand.Embedding, sel.Embedding); err == nil {
					if float64(sim) > redundancy {
						redundancy = float64(sim)
					}
				}
			}
			value := c.lambda*cand.Score - (1-c.lambda)*redundancy
			if best == -1 || value > bestValue {
				best, bestValue = i, value
			}
		}

		cand := remaining[best]
		remaining = append(remaining[:best], remaining[best+1:]...)

		tokens := c.estimate(cand.Content)
		if used+tokens > maxTokens {
			if len(kept) == 0 {
				return []CompressedItem{c.cut(cand, maxTokens)}
			}
			continue
		}
		kept = append(kept, CompressedItem{Item: cand, Tokens: tokens})
		used += tokens
	}
	return kept
}

// cut trims an item's content to the largest prefix fitting the budget.
func (c *Compressor) cut(it Item, maxTokens int) CompressedItem {
	lo, hi := 0, len(it.Content)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if c.estimate(it.Content[:mid]) <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	it.Content = it.Content[:lo]
	return CompressedItem{Item: it, Tokens: c.estimate(it.Content), Truncated: true}
}

// recentSTM returns the n most-recent short-term items, newest first.
func recentSTM(items []Item, n int) []Item {
	if n <= 0 {
		return nil
	}
	var stm []Item
	for _, it := range items {
		if it.Source == aggregate.SourceSTM {
			stm = append(stm, it)
		}
	}
	sort.SliceStable(stm, func(i, j int) bool { return stm[i].CreatedAt.After(stm[j].CreatedAt) })
	if len(stm) > n {
		stm = stm[:n]
	}
	return stm
}

func containsContent(kept []CompressedItem, it Item) bool {
	for _, k := range kept {
		if k.Source == it.Source && k.Content == it.Content {
			return true
		}
	}
	return false
}

// lowestEvictable finds the lowest-scored kept item that is not
// protected, or -1.
func lowestEvictable(kept []CompressedItem, protected []Item) int {
	idx := -1
	for i, k := range kept {
		if containsItem(protected, k.Item) {
			continue
		}
		if idx == -1 || k.Score < kept[idx].Score {
			idx = i
		}
	}
	return idx
}

func containsItem(items []Item, it Item) bool {
	for _, p := range items {
		if p.Source == it.Source && p.Content == it.Content {
			return true
		}
	}
	return false
}
