package notify

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTailNotifierIgnoresStaleAdvance(t *testing.T) {
	n := NewTailNotifier(nil, time.Minute, zerolog.Nop())

	assert.True(t, n.Advance("r", 5))
	assert.False(t, n.Advance("r", 4))
	assert.False(t, n.Advance("r", 5))
	assert.True(t, n.Advance("r", 6))
}

func TestTailSubscriptionAwaitAdvance(t *testing.T) {
	n := NewTailNotifier(nil, time.Minute, zerolog.Nop())
	sub := n.Subscribe("r")
	defer sub.Cancel()

	got := make(chan int64, 1)
	go func() {
		tail, err := sub.AwaitAdvance(context.Background(), 3)
		if err == nil {
			got <- tail
		}
	}()

	require.Eventually(t, func() bool { return len(n.b.Watched()) == 1 }, time.Second, time.Millisecond)
	// older notifications do not wake a subscriber that already knows tail 3
	n.Advance("r", 2)
	select {
	case <-got:
		t.Fatal("woken by stale tail")
	case <-time.After(20 * time.Millisecond):
	}

	n.Advance("r", 4)
	select {
	case tail := <-got:
		assert.Equal(t, int64(4), tail)
	case <-time.After(time.Second):
		t.Fatal("not woken")
	}
}

func TestTailNotifierRunPollsWatchedRooms(t *testing.T) {
	var reads atomic.Int32
	source := func(ctx context.Context, roomID string) (int64, error) {
		reads.Add(1)
		return 9, nil
	}
	n := NewTailNotifier(source, 5*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	subA := n.Subscribe("r")
	subB := n.Subscribe("r")
	defer subA.Cancel()
	defer subB.Cancel()

	for _, sub := range []*TailSubscription{subA, subB} {
		tail, err := sub.AwaitAdvance(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(9), tail)
	}
	assert.GreaterOrEqual(t, reads.Load(), int32(1))
}

func TestTailEventRoundTrip(t *testing.T) {
	room, tail, err := ParseTailEvent(FormatTailEvent("3f2a-room", 42))
	require.NoError(t, err)
	assert.Equal(t, "3f2a-room", room)
	assert.Equal(t, int64(42), tail)

	_, _, err = ParseTailEvent("no-separator")
	assert.Error(t, err)
	_, _, err = ParseTailEvent("room:abc")
	assert.Error(t, err)
}
