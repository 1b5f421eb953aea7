// Package preprocess normalizes raw query text and derives the signals
// the retrieval pipeline runs on: an embedding, an intent tag from a
// closed vocabulary, and a keyword set.
package preprocess

import (
	"context"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/AgonDise/memory-layer-lab/embedding"
)

// Intents form the closed vocabulary. Unmatched text is IntentGeneral.
const (
	IntentCodeSearch    = "code_search"
	IntentDebug         = "debug"
	IntentDocumentation = "documentation"
	IntentCommitLog     = "commit_log"
	IntentGeneral       = "general"
)

// maxKeywords caps the keyword set.
const maxKeywords = 10

// intentRules are checked in order; the first match wins. Debug outranks
// code_search so "find the bug" classifies as debug.
var intentRules = []struct {
	intent   string
	triggers []string
}{
	{IntentDebug, []string{"bug", "error", "fix", "debug", "issue", "problem", "traceback", "crash"}},
	{IntentCodeSearch, []string{"find", "search", "locate", "where is", "show me"}},
	{IntentCommitLog, []string{"commit", "history", "changelog", "git log", "version"}},
	{IntentDocumentation, []string{"explain", "what is", "how to", "document", "describe"}},
}

// stopWords are excluded from keyword extraction.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"her": true, "was": true, "one": true, "our": true, "out": true,
	"his": true, "has": true, "how": true, "man": true, "new": true,
	"now": true, "old": true, "see": true, "two": true, "way": true,
	"who": true, "did": true, "get": true, "this": true, "that": true,
	"with": true, "from": true, "they": true, "will": true, "have": true,
	"what": true, "when": true, "where": true, "which": true, "their": true,
	"there": true, "about": true, "would": true, "could": true, "should": true,
	"into": true, "than": true, "them": true, "then": true, "these": true,
	"some": true, "such": true, "very": true, "just": true, "does": true,
	"show": true, "please": true,
}

// Query is the preprocessed form of a raw user query.
type Query struct {
	RawText        string    `json:"raw"`
	NormalizedText string    `json:"normalized"`
	Embedding      []float32 `json:"-"`
	Intent         string    `json:"intent"`
	Keywords       []string  `json:"keywords"`
	Timestamp      time.Time `json:"timestamp"`
}

// Preprocessor derives Query objects. The embedder may be nil, in which
// case queries carry no embedding.
type Preprocessor struct {
	embedder embedding.Embedder
	log      *zap.Logger
}

// Option configures the preprocessor.
type Option func(*Preprocessor)

// WithLogger sets the logger; default is a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(p *Preprocessor) { p.log = log }
}

// New creates a preprocessor.
func New(embedder embedding.Embedder, opts ...Option) *Preprocessor {
	p := &Preprocessor{embedder: embedder, log: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process normalizes raw text and derives intent, keywords, and the
// embedding. Embedding failures leave the field nil; retrieval then falls
// back to keyword and recency paths.
func (p *Preprocessor) Process(ctx context.Context, raw string) Query {
	normalized := Normalize(raw)
	q := Query{
		RawText:        raw,
		NormalizedText: normalized,
		Intent:         ClassifyIntent(normalized),
		Keywords:       ExtractKeywords(normalized),
		Timestamp:      time.Now().UTC(),
	}

	if p.embedder != nil && normalized != "" {
		vec, err := p.embedder.Embed(ctx, normalized)
		if err != nil {
			p.log.Warn("query embedding failed", zap.Error(err))
		} else {
			q.Embedding = vec
		}
	}
	return q
}

// Normalize lowercases, strips punctuation, and collapses whitespace.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToLower(raw) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case r == '_' || r == '-':
			// Identifiers like parse_config survive normalization.
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// ClassifyIntent assigns an intent from the closed vocabulary by keyword
// rules over normalized text.
func ClassifyIntent(normalized string) string {
	padded := " " + normalized + " "
	for _, rule := range intentRules {
		for _, trigger := range rule.triggers {
			if strings.Contains(padded, " "+trigger+" ") {
				return rule.intent
			}
		}
	}
	return IntentGeneral
}

// ExtractKeywords returns content words of length >= 3 that are not stop
// words, uniquified and order-preserving, capped at 10.
func ExtractKeywords(normalized string) []string {
	seen := make(map[string]bool)
	var keywords []string
	for _, word := range strings.Fields(normalized) {
		if len(word) < 3 || stopWords[word] || seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}
