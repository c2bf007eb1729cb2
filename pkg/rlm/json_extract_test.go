package rlm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJsonExtractWalksDottedPath(t *testing.T) {
	out, err := jsonExtract(`{"a":{"b":{"c":"value"}}}`, "a.b.c")
	require.NoError(t, err)
	assert.Equal(t, "value", out)
}

func TestJsonExtractMarshalsNonStringLeaf(t *testing.T) {
	out, err := jsonExtract(`{"a":{"n":42}}`, "a.n")
	require.NoError(t, err)
	assert.Equal(t, "42", out)
}

func TestJsonExtractRejectsInvalidJSON(t *testing.T) {
	_, err := jsonExtract("not json", "a")
	assert.Error(t, err)
}

func TestJsonExtractRejectsMissingField(t *testing.T) {
	_, err := jsonExtract(`{"a":1}`, "b")
	assert.Error(t, err)
}

func TestJsonExtractRejectsNonObjectTraversal(t *testing.T) {
	_, err := jsonExtract(`{"a":"leaf"}`, "a.b")
	assert.Error(t, err)
}
