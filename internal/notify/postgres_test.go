package notify

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumeNotificationsPingsUnderSteadyTraffic(t *testing.T) {
	n := NewTailNotifier(nil, time.Minute, zerolog.Nop())
	sub := n.Subscribe("r1")
	defer sub.Cancel()

	notes := make(chan *pq.Notification)
	var pings atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- consumeNotifications(ctx, notes, n, 20*time.Millisecond, func() { pings.Add(1) }, zerolog.Nop())
	}()

	// Deliver faster than the ping interval so a per-iteration timer would never fire.
	for tail := int64(1); tail <= 40; tail++ {
		notes <- &pq.Notification{Channel: TailChannel, Extra: FormatTailEvent("r1", tail)}
		time.Sleep(2 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return pings.Load() > 0 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		tail, ok := n.b.Load("r1")
		return ok && tail == 40
	}, time.Second, time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestConsumeNotificationsDropsMalformedPayload(t *testing.T) {
	n := NewTailNotifier(nil, time.Minute, zerolog.Nop())
	sub := n.Subscribe("r1")
	defer sub.Cancel()

	notes := make(chan *pq.Notification, 2)
	notes <- &pq.Notification{Channel: TailChannel, Extra: "garbage"}
	notes <- &pq.Notification{Channel: TailChannel, Extra: FormatTailEvent("r1", 3)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go consumeNotifications(ctx, notes, n, time.Minute, func() {}, zerolog.Nop())

	got, err := sub.AwaitAdvance(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)
}
