package rlm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoSpawn(delay time.Duration) SpawnFunc {
	return func(ctx context.Context, objective string, contextData map[string]any, corrID string) <-chan string {
		out := make(chan string, 1)
		go func() {
			select {
			case <-time.After(delay):
				out <- "done: " + objective
			case <-ctx.Done():
			}
		}()
		return out
	}
}

func TestDispatcherFanOutReturnsCorrIDsImmediately(t *testing.T) {
	d := NewDispatcher(echoSpawn(10*time.Millisecond), 10, time.Second)
	ids, err := d.FanOut(context.Background(), "run-1", []string{"a", "b"}, nil)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestDispatcherWaitForNextReceivesCompletedResult(t *testing.T) {
	d := NewDispatcher(echoSpawn(5*time.Millisecond), 10, time.Second)
	_, err := d.Recurse(context.Background(), "run-1", "investigate", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	runID, _, output, err := d.WaitForNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-1", runID)
	assert.Equal(t, "done: investigate", output)
}

func TestDispatcherTryGetNextNonBlockingWhenEmpty(t *testing.T) {
	d := NewDispatcher(echoSpawn(time.Hour), 10, time.Second)
	_, _, _, ok := d.TryGetNext()
	assert.False(t, ok)
}

func TestDispatcherFanOutRejectsExceedingMaxDepth(t *testing.T) {
	d := NewDispatcher(echoSpawn(time.Millisecond), 1, time.Second)
	_, err := d.FanOut(context.Background(), "run-1", []string{"a", "b"}, nil)
	assert.ErrorIs(t, err, ErrMaxRecurseDepth)
}

func TestDispatcherCancelAllStopsPendingChildren(t *testing.T) {
	d := NewDispatcher(echoSpawn(time.Hour), 10, time.Second)
	_, err := d.Recurse(context.Background(), "run-1", "slow work", nil)
	require.NoError(t, err)

	d.CancelAll("run-1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	runID, _, output, err := d.WaitForNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-1", runID)
	assert.Contains(t, output, "cancelled")
}

func TestDispatcherPendingForReturnsOnlyOwnedCorrelations(t *testing.T) {
	d := NewDispatcher(echoSpawn(time.Hour), 10, time.Second)
	_, err := d.Recurse(context.Background(), "run-1", "a", nil)
	require.NoError(t, err)
	_, err = d.Recurse(context.Background(), "run-2", "b", nil)
	require.NoError(t, err)

	pending := d.PendingFor("run-1")
	require.Len(t, pending, 1)
	assert.Equal(t, ActorHarness, pending[0].ActorKind)
}
