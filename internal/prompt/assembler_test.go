package prompt_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gravitycar/dnd1strag/internal/chunk"
	"github.com/gravitycar/dnd1strag/internal/llm"
	"github.com/gravitycar/dnd1strag/internal/prompt"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	completion llm.Completion
	err        error
	lastUser   string
}

func (f *fakeClient) Complete(_ context.Context, _ string, messages []llm.Message, temperature float64, _ int) (llm.Completion, error) {
	if temperature != 0 {
		panic("assembler must call with temperature 0")
	}
	for _, m := range messages {
		if m.Role == "user" {
			f.lastUser = m.Content
		}
	}
	return f.completion, f.err
}

func TestAssembleEmptyResultsSkipsLLM(t *testing.T) {
	client := &fakeClient{}
	a := prompt.New(client)

	res, err := a.Assemble(context.Background(), "anything", nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.Answer)
	require.Empty(t, client.lastUser)
	require.Contains(t, res.Diagnostics[0], "no chunks survived")
}

func TestAssembleCapturesUsage(t *testing.T) {
	client := &fakeClient{completion: llm.Completion{
		Content:       "250,001 XP",
		Usage:         chunk.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		UsageReported: true,
	}}
	a := prompt.New(client)

	results := []chunk.RetrievalResult{{
		ID:       "fighter-xp",
		Text:     "9th level ... 250,001",
		Metadata: chunk.Metadata{"title": "FIGHTER — experience and level table", "page": "23"},
		Distance: 0.1,
	}}

	res, err := a.Assemble(context.Background(), "How many XP for 9th level fighter?", results)
	require.NoError(t, err)
	require.Equal(t, "250,001 XP", res.Answer)
	require.Equal(t, 15, res.Usage.TotalTokens)
	require.Empty(t, res.Diagnostics)
	require.Contains(t, client.lastUser, "[Chunk 1/1]")
	require.Contains(t, client.lastUser, "FIGHTER — experience and level table")
	require.Contains(t, client.lastUser, "p. 23")
}

func TestAssembleDiagnosesMissingUsage(t *testing.T) {
	client := &fakeClient{completion: llm.Completion{Content: "answer", UsageReported: false}}
	a := prompt.New(client)

	results := []chunk.RetrievalResult{{ID: "a", Text: "t", Metadata: chunk.Metadata{}, Distance: 0.1}}
	res, err := a.Assemble(context.Background(), "q", results)
	require.NoError(t, err)
	require.Contains(t, res.Diagnostics, "llm response omitted usage fields; treated as zero")
}

func TestAssemblePropagatesLLMError(t *testing.T) {
	client := &fakeClient{err: errors.New("boom")}
	a := prompt.New(client)

	results := []chunk.RetrievalResult{{ID: "a", Text: "t", Metadata: chunk.Metadata{}, Distance: 0.1}}
	_, err := a.Assemble(context.Background(), "q", results)
	require.Error(t, err)
}
