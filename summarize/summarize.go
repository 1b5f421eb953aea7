// Package summarize compresses a run of short-term turns into a single
// mid-term chunk. Local is a deterministic extractive summarizer with no
// network calls; LLM delegates to the Anthropic API and silently falls
// back to Local on any failure.
package summarize

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/AgonDise/memory-layer-lab/embedding"
	"github.com/AgonDise/memory-layer-lab/memory"
)

// maxTopics caps the topic set carried by a chunk.
const maxTopics = 10

// highSignalIntents are the intents that raise chunk importance.
var highSignalIntents = map[string]bool{
	"debug":       true,
	"code_search": true,
	"commit_log":  true,
}

// Summarizer turns an ordered run of turns into one chunk.
type Summarizer interface {
	Summarize(ctx context.Context, turns []memory.Turn) (memory.Chunk, error)
}

// Local is the extractive summarizer: first plus last turn, keyword
// union, and a linear importance heuristic.
type Local struct {
	embedder embedding.Embedder
}

// NewLocal creates a Local summarizer. embedder may be nil, in which case
// chunks carry no embedding.
func NewLocal(embedder embedding.Embedder) *Local {
	return &Local{embedder: embedder}
}

// Summarize builds a chunk from turns. It fails only on empty input.
func (l *Local) Summarize(ctx context.Context, turns []memory.Turn) (memory.Chunk, error) {
	if len(turns) == 0 {
		return memory.Chunk{}, fmt.Errorf("summarize: no turns: %w", memory.ErrInvalidArgument)
	}

	chunk := baseChunk(turns)
	chunk.Summary = extractiveSummary(turns)
	l.embed(ctx, &chunk)
	return chunk, nil
}

func (l *Local) embed(ctx context.Context, chunk *memory.Chunk) {
	if l.embedder == nil || chunk.Summary == "" {
		return
	}
	// A chunk without an embedding still participates in keyword search,
	// so embedding failures are not fatal.
	if vec, err := l.embedder.Embed(ctx, chunk.Summary); err == nil {
		chunk.Embedding = vec
	}
}

// baseChunk fills every field except Summary and Embedding.
func baseChunk(turns []memory.Turn) memory.Chunk {
	ids := make([]string, len(turns))
	for i, t := range turns {
		ids[i] = t.ID
	}
	return memory.Chunk{
		ID:            memory.NewID(),
		SourceTurnIDs: ids,
		Topics:        extractTopics(turns),
		Importance:    Importance(turns),
		MessageCount:  len(turns),
		CreatedAt:     time.Now().UTC(),
	}
}

// extractiveSummary joins the first and last turn, tagging each with its
// role so intent and outcome survive compression.
func extractiveSummary(turns []memory.Turn) string {
	first := turns[0]
	if len(turns) == 1 {
		return fmt.Sprintf("[%s] %s", first.Role, first.Content)
	}
	last := turns[len(turns)-1]
	return fmt.Sprintf("[%s] %s ... [%s] %s", first.Role, first.Content, last.Role, last.Content)
}

// extractTopics unions turn keywords, falling back to long content words
// for turns that carry none. Order follows first appearance.
func extractTopics(turns []memory.Turn) []string {
	seen := make(map[string]bool)
	var topics []string
	add := func(word string) {
		word = strings.ToLower(word)
		if word == "" || seen[word] {
			return
		}
		seen[word] = true
		topics = append(topics, word)
	}

	for _, t := range turns {
		if len(t.Keywords) > 0 {
			for _, kw := range t.Keywords {
				add(kw)
			}
			continue
		}
		for _, word := range strings.Fields(t.Content) {
			word = strings.Trim(word, ".,;:!?\"'()[]{}")
			if len(word) > 5 {
				add(word)
			}
		}
	}

	if len(topics) > maxTopics {
		topics = topics[:maxTopics]
	}
	return topics
}

// Importance scores a run of turns in [0,1]: half from average token
// count saturating at 100 tokens per turn, half from the share of turns
// carrying a high-signal intent.
func Importance(turns []memory.Turn) float64 {
	if len(turns) == 0 {
		return 0
	}

	var tokens, signal int
	for _, t := range turns {
		est := t.TokenEstimate
		if est == 0 {
			est = memory.EstimateTokens(t.Content)
		}
		tokens += est
		if highSignalIntents[t.Intent] {
			signal++
		}
	}

	avg := float64(tokens) / float64(len(turns))
	density := math.Min(1, avg/100)
	signalShare := float64(signal) / float64(len(turns))
	return 0.5*density + 0.5*signalShare
}

// sortedTopics returns topics in deterministic order for prompts.
func sortedTopics(topics []string) []string {
	out := append([]string(nil), topics...)
	sort.Strings(out)
	return out
}
