package rlm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProgramOrdersByDependency(t *testing.T) {
	steps := []Step{
		{ID: "c", Op: OpEmit, DependsOn: []string{"a", "b"}},
		{ID: "a", Op: OpEmit},
		{ID: "b", Op: OpEmit, DependsOn: []string{"a"}},
	}
	p, err := NewProgram(steps)
	require.NoError(t, err)

	posA := indexOf(p.order, "a")
	posB := indexOf(p.order, "b")
	posC := indexOf(p.order, "c")
	assert.True(t, posA < posB)
	assert.True(t, posB < posC)
}

func TestNewProgramRejectsCycle(t *testing.T) {
	steps := []Step{
		{ID: "a", Op: OpEmit, DependsOn: []string{"b"}},
		{ID: "b", Op: OpEmit, DependsOn: []string{"a"}},
	}
	_, err := NewProgram(steps)
	assert.ErrorIs(t, err, ErrDagCycle)
}

func TestNewProgramRejectsUnknownDependency(t *testing.T) {
	steps := []Step{{ID: "a", Op: OpEmit, DependsOn: []string{"missing"}}}
	_, err := NewProgram(steps)
	assert.ErrorIs(t, err, ErrDagUnknownDependency)
}

func TestNewProgramRejectsUnknownGateCondition(t *testing.T) {
	steps := []Step{{ID: "a", Op: OpEmit, Condition: "missing"}}
	_, err := NewProgram(steps)
	assert.ErrorIs(t, err, ErrDagUnknownDependency)
}

func TestNewProgramWithLimitRejectsOversizedDag(t *testing.T) {
	steps := make([]Step, 3)
	for i := range steps {
		steps[i] = Step{ID: string(rune('a' + i)), Op: OpEmit}
	}
	_, err := NewProgramWithLimit(steps, 2)
	assert.ErrorIs(t, err, ErrDagTooLarge)
}

func TestSubstituteReplacesKnownAndUnresolvedTokens(t *testing.T) {
	outputs := map[string]string{"step1": "hello"}
	assert.Equal(t, "hello world", substitute("${step1} world", outputs))
	assert.Equal(t, "(unresolved) world", substitute("${missing} world", outputs))
}

func TestEvalGateOperators(t *testing.T) {
	assert.True(t, evalGate("contains", "ell", "hello"))
	assert.False(t, evalGate("contains", "xyz", "hello"))
	assert.True(t, evalGate("not_contains", "xyz", "hello"))
	assert.True(t, evalGate("equals", "hello", "hello"))
	assert.True(t, evalGate("not_equals", "world", "hello"))
	assert.True(t, evalGate("matches", "^h.*o$", "hello"))
	assert.False(t, evalGate("unknown_op", "x", "hello"))
}

func TestApplyTransformVariants(t *testing.T) {
	out, err := applyTransform("truncate", "5", "hello world")
	require.NoError(t, err)
	assert.Equal(t, "hello…", out)

	out, err = applyTransform("regex", `(\d+)`, "value=42")
	require.NoError(t, err)
	assert.Equal(t, "42", out)

	_, err = applyTransform("bogus", "", "x")
	assert.Error(t, err)
}

func indexOf(xs []string, v string) int {
	for i, x := range xs {
		if x == v {
			return i
		}
	}
	return -1
}
