package summarize_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgonDise/memory-layer-lab/embedding/fallback"
	"github.com/AgonDise/memory-layer-lab/memory"
	"github.com/AgonDise/memory-layer-lab/summarize"
)

func turn(role memory.Role, content, intent string, keywords ...string) memory.Turn {
	t := memory.NewTurn(role, content)
	t.Intent = intent
	t.Keywords = keywords
	return t
}

func TestLocalSummarize(t *testing.T) {
	ctx := context.Background()
	s := summarize.NewLocal(fallback.New(8))

	turns := []memory.Turn{
		turn(memory.RoleUser, "where is the parser entrypoint", "code_search", "parser", "entrypoint"),
		turn(memory.RoleAssistant, "it lives in parse_main", "general", "parse_main"),
		turn(memory.RoleUser, "thanks, that fixed my issue", "debug", "fixed", "issue"),
	}

	chunk, err := s.Summarize(ctx, turns)
	require.NoError(t, err)

	assert.Contains(t, chunk.Summary, "where is the parser entrypoint")
	assert.Contains(t, chunk.Summary, "thanks, that fixed my issue")
	assert.Equal(t, []string{"parser", "entrypoint", "parse_main", "fixed", "issue"}, chunk.Topics)
	assert.Equal(t, 3, chunk.MessageCount)
	require.Len(t, chunk.SourceTurnIDs, 3)
	assert.Equal(t, turns[0].ID, chunk.SourceTurnIDs[0])
	assert.Len(t, chunk.Embedding, 8)
	assert.Greater(t, chunk.Importance, 0.0)
	assert.LessOrEqual(t, chunk.Importance, 1.0)
}

func TestLocalSummarizeSingleTurn(t *testing.T) {
	ctx := context.Background()
	s := summarize.NewLocal(nil)

	chunk, err := s.Summarize(ctx, []memory.Turn{turn(memory.RoleUser, "hello there", "general")})
	require.NoError(t, err)
	assert.Equal(t, "[user] hello there", chunk.Summary)
	assert.Nil(t, chunk.Embedding)
}

func TestLocalSummarizeEmpty(t *testing.T) {
	s := summarize.NewLocal(nil)
	_, err := s.Summarize(context.Background(), nil)
	assert.True(t, errors.Is(err, memory.ErrInvalidArgument))
}

func TestImportanceHighSignalIntents(t *testing.T) {
	low := []memory.Turn{
		turn(memory.RoleUser, "hi", "general"),
		turn(memory.RoleAssistant, "hello", "general"),
	}
	high := []memory.Turn{
		turn(memory.RoleUser, "traceback in the scheduler, null pointer on line 40", "debug"),
		turn(memory.RoleAssistant, "the bug is a missing nil check before dereference", "debug"),
	}

	assert.Greater(t, summarize.Importance(high), summarize.Importance(low))
	assert.Zero(t, summarize.Importance(nil))
}

func TestImportanceSaturates(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	turns := []memory.Turn{
		turn(memory.RoleUser, string(long), "debug"),
	}
	assert.InDelta(t, 1.0, summarize.Importance(turns), 1e-9)
}

type failingCompleter struct{}

func (failingCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return "", errors.New("api unavailable")
}

type fixedCompleter struct{ text string }

func (c fixedCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return c.text, nil
}

func TestLLMSummarize(t *testing.T) {
	ctx := context.Background()
	s := summarize.NewLLM("", "", summarize.NewLocal(nil),
		summarize.WithCompleter(fixedCompleter{text: " user asked about the parser. "}))

	chunk, err := s.Summarize(ctx, []memory.Turn{
		turn(memory.RoleUser, "where is the parser", "code_search", "parser"),
	})
	require.NoError(t, err)
	assert.Equal(t, "user asked about the parser.", chunk.Summary)
	assert.Equal(t, []string{"parser"}, chunk.Topics)
}

func TestLLMSummarizeFallsBackSilently(t *testing.T) {
	ctx := context.Background()
	s := summarize.NewLLM("", "", summarize.NewLocal(nil),
		summarize.WithCompleter(failingCompleter{}))

	chunk, err := s.Summarize(ctx, []memory.Turn{
		turn(memory.RoleUser, "explain the cache layer", "documentation"),
	})
	require.NoError(t, err)
	assert.Equal(t, "[user] explain the cache layer", chunk.Summary)
}
