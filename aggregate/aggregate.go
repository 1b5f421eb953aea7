// Package aggregate merges the parallel tier retrievals into one ranked
// list. Each item's final score combines a tier-derived base score with
// query relevance under per-tier weights, and near-duplicate contents are
// collapsed onto the higher-scored item.
package aggregate

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/AgonDise/memory-layer-lab/embedding"
)

// Tier sources.
const (
	SourceSTM = "stm"
	SourceMTM = "mtm"
	SourceLTM = "ltm"
)

// Defaults. Weights sum to 1; Alpha balances relevance against the base
// score; contents with word Jaccard above DedupThreshold are duplicates.
const (
	DefaultWeightSTM      = 0.5
	DefaultWeightMTM      = 0.3
	DefaultWeightLTM      = 0.2
	DefaultAlpha          = 0.7
	DefaultDedupThreshold = 0.85
)

// Config holds aggregation parameters.
type Config struct {
	WeightSTM      float64
	WeightMTM      float64
	WeightLTM      float64
	Alpha          float64
	DedupThreshold float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		WeightSTM:      DefaultWeightSTM,
		WeightMTM:      DefaultWeightMTM,
		WeightLTM:      DefaultWeightLTM,
		Alpha:          DefaultAlpha,
		DedupThreshold: DefaultDedupThreshold,
	}
}

// Item is one tier retrieval result entering aggregation. Base is the
// tier-derived score in [0,1]. Relevance is a pre-computed relevance
// (e.g. a vector store similarity) used when no embedding is available
// for the query-side cosine.
type Item struct {
	Source    string
	Content   string
	Embedding []float32
	Base      float64
	Relevance float64
	Metadata  map[string]string
}

// Result is a ranked context item.
type Result struct {
	Source         string            `json:"source"`
	Content        string            `json:"content"`
	FinalScore     float64           `json:"final_score"`
	BaseScore      float64           `json:"base_score"`
	RelevanceScore float64           `json:"relevance_score"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Aggregator scores, deduplicates, and ranks tier results.
type Aggregator struct {
	cfg Config
}

// New creates an aggregator, filling zero config fields with defaults.
func New(cfg Config) *Aggregator {
	if cfg.WeightSTM == 0 && cfg.WeightMTM == 0 && cfg.WeightLTM == 0 {
		cfg.WeightSTM = DefaultWeightSTM
		cfg.WeightMTM = DefaultWeightMTM
		cfg.WeightLTM = DefaultWeightLTM
	}
	if cfg.Alpha == 0 {
		cfg.Alpha = DefaultAlpha
	}
	if cfg.DedupThreshold == 0 {
		cfg.DedupThreshold = DefaultDedupThreshold
	}
	return &Aggregator{cfg: cfg}
}

// Aggregate scores every item, drops near-duplicates keeping the higher
// score, and returns results sorted non-increasing by final score.
func (a *Aggregator) Aggregate(items []Item, queryEmbedding []float32) []Result {
	results := make([]Result, 0, len(items))
	for _, it := range items {
		rel := it.Relevance
		if queryEmbedding != nil && it.Embedding != nil {
			if sim, err := embedding.Similarity(queryEmbedding, it.Embedding); err == nil {
				rel = float64(sim)
			}
		}
		results = append(results, Result{
			Source:         it.Source,
			Content:        it.Content,
			FinalScore:     a.weight(it.Source) * (a.cfg.Alpha*rel + (1-a.cfg.Alpha)*it.Base),
			BaseScore:      it.Base,
			RelevanceScore: rel,
			Metadata:       it.Metadata,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].FinalScore > results[j].FinalScore
	})
	return a.dedup(results)
}

func (a *Aggregator) weight(source string) float64 {
	switch source {
	case SourceSTM:
		return a.cfg.WeightSTM
	case SourceMTM:
		return a.cfg.WeightMTM
	case SourceLTM:
		return a.cfg.WeightLTM
	}
	return 0
}

// dedup drops items whose content word set overlaps a higher-scored item
// beyond the threshold. Results arrive sorted, so keeping the first
// occurrence keeps the higher score.
func (a *Aggregator) dedup(results []Result) []Result {
	kept := results[:0]
	var keptWords []map[string]bool
	for _, r := range results {
		words := wordSet(r.Content)
		dup := false
		for _, prev := range keptWords {
			if jaccard(words, prev) > a.cfg.DedupThreshold {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		kept = append(kept, r)
		keptWords = append(keptWords, words)
	}
	return kept
}

// BaseFromRecency maps item age onto (0,1] with exponential decay: a
// fresh item scores 1, one halfLife old scores 0.5.
func BaseFromRecency(createdAt, now time.Time, halfLife time.Duration) float64 {
	if halfLife <= 0 || !createdAt.Before(now) {
		return 1
	}
	age := now.Sub(createdAt)
	return math.Pow(0.5, float64(age)/float64(halfLife))
}

// BaseFromPosition maps list position onto (0,1], newest highest:
// position total-1 scores 1, position 0 scores 1/total.
func BaseFromPosition(position, total int) float64 {
	if total <= 0 || position < 0 || position >= total {
		return 0
	}
	return float64(position+1) / float64(total)
}

func wordSet(content string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(content)) {
		words[strings.Trim(w, ".,;:!?\"'()[]{}")] = true
	}
	delete(words, "")
	return words
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var inter int
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
