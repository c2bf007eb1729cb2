package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSandbox(t *testing.T) *Sandbox {
	t.Helper()
	return NewSandbox(t.TempDir(), nil)
}

func TestFileWriteThenReadRoundTrips(t *testing.T) {
	sb := newTestSandbox(t)
	write := &FileWriteTool{Sandbox: sb}

	res := write.Execute(context.Background(), map[string]any{"path": "notes.txt", "content": "hello"})
	require.True(t, res.Success)

	read := &FileReadTool{Sandbox: sb}
	res = read.Execute(context.Background(), map[string]any{"path": "notes.txt"})
	require.True(t, res.Success)
	assert.Equal(t, "hello", res.Output)
}

func TestFileReadRejectsPathEscape(t *testing.T) {
	sb := newTestSandbox(t)
	read := &FileReadTool{Sandbox: sb}
	res := read.Execute(context.Background(), map[string]any{"path": "../escape.txt"})
	assert.False(t, res.Success)
}

func TestFileWriteRejectsDraftPathWhenWriterModeActive(t *testing.T) {
	sb := newTestSandbox(t)
	write := &FileWriteTool{Sandbox: sb, WriterModeActive: func() bool { return true }}

	res := write.Execute(context.Background(), map[string]any{"path": "draft.md", "content": "x"})
	assert.False(t, res.Success)
	assert.Equal(t, ErrWriterModeRequired.Error(), res.Error)
}

func TestFileWriteAllowsDraftPathWhenWriterModeInactive(t *testing.T) {
	sb := newTestSandbox(t)
	write := &FileWriteTool{Sandbox: sb, WriterModeActive: func() bool { return false }}

	res := write.Execute(context.Background(), map[string]any{"path": "draft.md", "content": "x"})
	assert.True(t, res.Success)
}

func TestFileWriteRejectsNonWritableGlob(t *testing.T) {
	sb := NewSandbox(t.TempDir(), []string{"scratch/**"})
	write := &FileWriteTool{Sandbox: sb}

	res := write.Execute(context.Background(), map[string]any{"path": "outside.txt", "content": "x"})
	assert.False(t, res.Success)
}

func TestFileEditReplacesFirstOccurrence(t *testing.T) {
	sb := newTestSandbox(t)
	require.NoError(t, os.WriteFile(filepath.Join(sb.Root, "doc.txt"), []byte("foo bar foo"), 0o644))

	edit := &FileEditTool{Sandbox: sb}
	res := edit.Execute(context.Background(), map[string]any{"path": "doc.txt", "old_string": "foo", "new_string": "baz"})
	require.True(t, res.Success)

	data, err := os.ReadFile(filepath.Join(sb.Root, "doc.txt"))
	require.NoError(t, err)
	assert.Equal(t, "baz bar foo", string(data))
}

func TestFileEditFailsWhenOldStringAbsent(t *testing.T) {
	sb := newTestSandbox(t)
	require.NoError(t, os.WriteFile(filepath.Join(sb.Root, "doc.txt"), []byte("content"), 0o644))

	edit := &FileEditTool{Sandbox: sb}
	res := edit.Execute(context.Background(), map[string]any{"path": "doc.txt", "old_string": "missing", "new_string": "x"})
	assert.False(t, res.Success)
}

func TestFileEditRejectsDraftPathWhenWriterModeActive(t *testing.T) {
	sb := newTestSandbox(t)
	require.NoError(t, os.WriteFile(filepath.Join(sb.Root, "draft.md"), []byte("content"), 0o644))

	edit := &FileEditTool{Sandbox: sb, WriterModeActive: func() bool { return true }}
	res := edit.Execute(context.Background(), map[string]any{"path": "draft.md", "old_string": "content", "new_string": "x"})
	assert.False(t, res.Success)
	assert.Equal(t, ErrWriterModeRequired.Error(), res.Error)
}
