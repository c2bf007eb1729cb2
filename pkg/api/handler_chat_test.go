package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choir-run/choir/pkg/eventlog"
)

func mustEvent(t *testing.T, eventType string, payload map[string]any) eventlog.Event {
	t.Helper()
	e, err := eventlog.NewEvent(eventType, "researcher:run-1", "user-1", payload)
	require.NoError(t, err)
	return e
}

func TestChatFrameTranslatesToolCallAndResult(t *testing.T) {
	callFrame, ok := chatFrame(mustEvent(t, "worker.tool.call", map[string]any{
		"trace_id": "t1", "tool": "bash", "arguments": map[string]any{"cmd": "ls"},
	}))
	require.True(t, ok)
	assert.Equal(t, "tool_call", callFrame["type"])
	assert.Equal(t, "bash", callFrame["tool"])
	assert.NotNil(t, callFrame["args"])

	resultFrame, ok := chatFrame(mustEvent(t, "worker.tool.result", map[string]any{
		"trace_id": "t1", "tool": "bash", "output_excerpt": "file1\nfile2",
	}))
	require.True(t, ok)
	assert.Equal(t, "tool_result", resultFrame["type"])
	assert.Equal(t, "file1\nfile2", resultFrame["result"])
}

func TestChatFrameTranslatesResponseAndError(t *testing.T) {
	responseFrame, ok := chatFrame(mustEvent(t, "worker.task.completed", map[string]any{
		"trace_id": "t1", "message": "done",
	}))
	require.True(t, ok)
	assert.Equal(t, "response", responseFrame["type"])
	assert.Equal(t, "done", responseFrame["message"])

	errorFrame, ok := chatFrame(mustEvent(t, "worker.task.failed", map[string]any{
		"trace_id": "t1", "message": "boom",
	}))
	require.True(t, ok)
	assert.Equal(t, "error", errorFrame["type"])
}

func TestChatFrameDropsUnrelatedEventTypes(t *testing.T) {
	_, ok := chatFrame(mustEvent(t, "writer.run.version.created", nil))
	assert.False(t, ok)
}
