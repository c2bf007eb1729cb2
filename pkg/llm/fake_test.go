package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, ch <-chan Chunk) []Chunk {
	t.Helper()
	var out []Chunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestFakeReplaysTurnsInOrderThenRepeatsFinal(t *testing.T) {
	f := NewFake(Decision{Finished: "first"}, Decision{Finished: "second"})

	ch, err := f.Generate(context.Background(), GenerateInput{})
	require.NoError(t, err)
	chunks := drain(t, ch)
	assert.Equal(t, "FINISHED: first", chunks[0].Text)

	ch, err = f.Generate(context.Background(), GenerateInput{})
	require.NoError(t, err)
	chunks = drain(t, ch)
	assert.Equal(t, "FINISHED: second", chunks[0].Text)

	ch, err = f.Generate(context.Background(), GenerateInput{})
	require.NoError(t, err)
	chunks = drain(t, ch)
	assert.Equal(t, "FINISHED: second", chunks[0].Text)
}

func TestFakeEmitsToolCallChunkWhenDecisionHasToolCalls(t *testing.T) {
	f := NewFake(Decision{ToolCalls: []ToolCall{{Name: "bash"}}})
	ch, err := f.Generate(context.Background(), GenerateInput{})
	require.NoError(t, err)
	chunks := drain(t, ch)
	require.Equal(t, ChunkToolCall, chunks[0].Kind)
	assert.Equal(t, "bash", chunks[0].ToolCalls[0].Name)
}

func TestFakeEmitsBlockedTextWhenDecisionBlocked(t *testing.T) {
	f := NewFake(Decision{Blocked: "waiting on approval"})
	ch, err := f.Generate(context.Background(), GenerateInput{})
	require.NoError(t, err)
	chunks := drain(t, ch)
	assert.Equal(t, "BLOCKED: waiting on approval", chunks[0].Text)
}

func TestFakeWithNoTurnsConfiguredReturnsDefaultFinish(t *testing.T) {
	f := NewFake()
	ch, err := f.Generate(context.Background(), GenerateInput{})
	require.NoError(t, err)
	chunks := drain(t, ch)
	assert.Equal(t, "FINISHED: no turns configured", chunks[0].Text)
}
