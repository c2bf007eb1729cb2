package eventrelay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choir-run/choir/pkg/eventbus"
	"github.com/choir-run/choir/pkg/eventlog"
)

func TestRelayRepublishesCommittedEventsToBus(t *testing.T) {
	store := eventlog.NewMemoryStore()
	bus := eventbus.New()
	relay := New(store, bus)

	sub := bus.Subscribe("worker.")
	defer sub.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	waitHealthy(t, relay)

	e, err := eventlog.NewEvent("worker.task.started", "actor-1", "", nil)
	require.NoError(t, err)
	_, err = store.Append(context.Background(), e)
	require.NoError(t, err)

	select {
	case got := <-sub.Events:
		assert.Equal(t, "worker.task.started", got.EventType)
	case <-time.After(time.Second):
		t.Fatal("relay did not republish event within timeout")
	}

	cancel()
	<-done
}

func TestRelayHealthyReflectsRunLifecycle(t *testing.T) {
	store := eventlog.NewMemoryStore()
	bus := eventbus.New()
	relay := New(store, bus)
	assert.False(t, relay.Healthy())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	waitHealthy(t, relay)
	cancel()
	<-done
	assert.False(t, relay.Healthy())
}

func TestRelayWatermarkAdvancesWithAppends(t *testing.T) {
	store := eventlog.NewMemoryStore()
	bus := eventbus.New()
	relay := New(store, bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	waitHealthy(t, relay)

	e, err := eventlog.NewEvent("worker.task.started", "actor-1", "", nil)
	require.NoError(t, err)
	seq, err := store.Append(context.Background(), e)
	require.NoError(t, err)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if relay.Watermark() == seq {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, seq, relay.Watermark())

	cancel()
	<-done
}

func waitHealthy(t *testing.T, relay *Relay) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if relay.Healthy() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("relay never became healthy")
}
