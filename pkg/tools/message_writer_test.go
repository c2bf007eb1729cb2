package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choir-run/choir/pkg/writer"
)

func newTestMessageWriter(t *testing.T, runID string) *MessageWriterTool {
	t.Helper()
	rt := writer.NewRuntime(t.TempDir(), nil, nil)
	_, err := rt.Ensure(context.Background(), runID, "desk-1", "investigate")
	require.NoError(t, err)
	return &MessageWriterTool{Runtime: rt, RunID: runID, Author: writer.AuthorResearcher}
}

func TestMessageWriterCanonAppendCallsOnSuccess(t *testing.T) {
	var succeeded bool
	mw := newTestMessageWriter(t, "run-1")
	mw.OnSuccess = func() { succeeded = true }

	res := mw.Execute(context.Background(), map[string]any{
		"mode": "canon_append", "section_id": "findings", "content": "found it",
	})
	require.True(t, res.Success)
	assert.True(t, succeeded)
}

func TestMessageWriterProposalAppendCreatesOverlay(t *testing.T) {
	mw := newTestMessageWriter(t, "run-1")

	res := mw.Execute(context.Background(), map[string]any{
		"mode": "proposal_append", "section_id": "findings", "content": "proposed text",
	})
	require.True(t, res.Success)
	assert.Contains(t, res.Output, "overlay_id=")
}

func TestMessageWriterProgressReportsRevision(t *testing.T) {
	mw := newTestMessageWriter(t, "run-1")

	res := mw.Execute(context.Background(), map[string]any{
		"mode": "progress", "section_id": "findings", "phase": "running", "message": "still working",
	})
	require.True(t, res.Success)
	assert.Contains(t, res.Output, "revision=")
}

func TestMessageWriterStateUpdatesSectionState(t *testing.T) {
	mw := newTestMessageWriter(t, "run-1")

	res := mw.Execute(context.Background(), map[string]any{
		"mode": "state", "section_id": "findings", "mode_arg": string(writer.SectionRunning),
	})
	require.True(t, res.Success)
}

func TestMessageWriterRejectsUnknownMode(t *testing.T) {
	mw := newTestMessageWriter(t, "run-1")

	res := mw.Execute(context.Background(), map[string]any{"mode": "bogus", "section_id": "findings"})
	assert.False(t, res.Success)
}

func TestMessageWriterFailureDoesNotCallOnSuccess(t *testing.T) {
	var called bool
	mw := newTestMessageWriter(t, "run-1")
	mw.OnSuccess = func() { called = true }

	res := mw.Execute(context.Background(), map[string]any{"mode": "bogus"})
	require.False(t, res.Success)
	assert.False(t, called)
}
