package writer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPatchesInsert(t *testing.T) {
	out, modified, err := ApplyPatches("hello world", []PatchOp{
		{Kind: OpInsert, Position: 5, Text: ","},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello, world", out)
	assert.Equal(t, 1, modified)
}

func TestApplyPatchesDeleteAndReplace(t *testing.T) {
	out, modified, err := ApplyPatches("the quick brown fox", []PatchOp{
		{Kind: OpDelete, Start: 4, End: 10}, // removes "quick "
		{Kind: OpReplace, Start: 4, End: 9, Text: "red"},
	})
	require.NoError(t, err)
	assert.Equal(t, "the red fox", out)
	assert.Equal(t, 2, modified)
}

func TestApplyPatchesAppend(t *testing.T) {
	out, modified, err := ApplyPatches("line one", []PatchOp{
		{Kind: OpAppend, Text: "\nline two"},
	})
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", out)
	assert.Equal(t, 1, modified)
}

func TestApplyPatchesRetainIsNoOp(t *testing.T) {
	out, modified, err := ApplyPatches("unchanged", []PatchOp{{Kind: OpRetain, Count: 9}})
	require.NoError(t, err)
	assert.Equal(t, "unchanged", out)
	assert.Equal(t, 0, modified)
}

func TestApplyPatchesRejectsOutOfRangeInsert(t *testing.T) {
	_, _, err := ApplyPatches("short", []PatchOp{{Kind: OpInsert, Position: 100, Text: "x"}})
	assert.Error(t, err)
}

func TestApplyPatchesRejectsInvalidRange(t *testing.T) {
	_, _, err := ApplyPatches("short", []PatchOp{{Kind: OpDelete, Start: 3, End: 1}})
	assert.Error(t, err)
}

func TestApplyPatchesRejectsUnknownKind(t *testing.T) {
	_, _, err := ApplyPatches("short", []PatchOp{{Kind: "bogus"}})
	assert.Error(t, err)
}
