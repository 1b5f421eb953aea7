package summarize

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/AgonDise/memory-layer-lab/memory"
)

const (
	// DefaultModel is the model used when none is configured.
	DefaultModel = "claude-sonnet-4-20250514"

	defaultMaxTokens = 512

	systemPrompt = "You summarize conversation excerpts for a memory system. " +
		"Produce one concise paragraph that preserves named entities, intents, and outcomes. " +
		"Respond with the summary only."
)

// Completer produces a text completion for a prompt. It abstracts the
// Anthropic messages API so tests can substitute failures.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// LLM summarizes via an LLM and silently falls back to Local when the
// call fails. Topics, importance, and the embedding always come from the
// local pipeline; only the summary text is delegated.
type LLM struct {
	completer Completer
	local     *Local
	log       *zap.Logger
}

// LLMOption configures the LLM summarizer.
type LLMOption func(*LLM)

// WithLLMLogger sets the logger; default is a nop logger.
func WithLLMLogger(log *zap.Logger) LLMOption {
	return func(s *LLM) { s.log = log }
}

// WithCompleter replaces the Anthropic-backed completer.
func WithCompleter(c Completer) LLMOption {
	return func(s *LLM) { s.completer = c }
}

// NewLLM creates an LLM summarizer backed by the Anthropic API. local
// handles fallback and the non-summary chunk fields.
func NewLLM(apiKey, model string, local *Local, opts ...LLMOption) *LLM {
	if model == "" {
		model = DefaultModel
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	s := &LLM{
		completer: &anthropicCompleter{client: &client, model: model},
		local:     local,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summarize delegates the summary text to the LLM. Any failure falls
// back to the extractive summary without surfacing an error.
func (s *LLM) Summarize(ctx context.Context, turns []memory.Turn) (memory.Chunk, error) {
	if len(turns) == 0 {
		return memory.Chunk{}, fmt.Errorf("summarize: no turns: %w", memory.ErrInvalidArgument)
	}

	chunk := baseChunk(turns)

	summary, err := s.completer.Complete(ctx, transcript(turns))
	if err != nil || strings.TrimSpace(summary) == "" {
		s.log.Debug("llm summarize failed, using extractive fallback", zap.Error(err))
		summary = extractiveSummary(turns)
	}
	chunk.Summary = strings.TrimSpace(summary)

	s.local.embed(ctx, &chunk)
	return chunk, nil
}

// transcript renders turns for the prompt, with topics as a hint.
func transcript(turns []memory.Turn) string {
	var b strings.Builder
	b.WriteString("Summarize this conversation excerpt:\n\n")
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	if topics := extractTopics(turns); len(topics) > 0 {
		fmt.Fprintf(&b, "\nKey terms: %s\n", strings.Join(sortedTopics(topics), ", "))
	}
	return b.String()
}

type anthropicCompleter struct {
	client *anthropic.Client
	model  string
}

func (c *anthropicCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: defaultMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}
