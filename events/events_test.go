package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubscribeFiltersByKind(t *testing.T) {
	bus := New()
	ch := make(chan Event, 4)
	sub := bus.Subscribe(ch, BlockCommitted)
	defer sub.Unsubscribe()

	bus.Emit(string(VoteCast), "ignored")
	bus.Emit(string(BlockCommitted), "block-1")

	select {
	case ev := <-ch:
		require.Equal(t, BlockCommitted, ev.Kind)
		require.Equal(t, "block-1", ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}

	select {
	case ev := <-ch:
		t.Fatalf("unexpected second event: %+v", ev)
	default:
	}
}

func TestSubscribeAllKindsWithoutFilter(t *testing.T) {
	bus := New()
	ch := make(chan Event, 4)
	bus.Subscribe(ch)

	bus.Emit(string(RoundTimeout), nil)
	bus.Emit(string(Slashed), nil)

	require.Len(t, ch, 2)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New()
	ch := make(chan Event, 1)
	sub := bus.Subscribe(ch)
	sub.Unsubscribe()

	bus.Emit(string(BlockProposed), nil)
	require.Empty(t, ch)
}

func TestEmitDropsOnFullChannelWithoutBlocking(t *testing.T) {
	bus := New()
	ch := make(chan Event) // unbuffered, no reader
	bus.Subscribe(ch)

	done := make(chan struct{})
	go func() {
		bus.Emit(string(BlockCommitted), nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full channel")
	}
}
