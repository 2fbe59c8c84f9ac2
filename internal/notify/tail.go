package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TailChannel is the Postgres NOTIFY channel carrying room tail advances.
const TailChannel = "room_tail"

// TailSource reads the current tail of a room from storage.
type TailSource func(ctx context.Context, roomID string) (int64, error)

// TailNotifier wakes subscribers of a room when its tail advances. All
// subscribers of a room share one cached tail, so a single advance or a single
// storage read per room wakes every waiting connection.
type TailNotifier struct {
	b      *Broadcaster[int64]
	source TailSource
	rearm  time.Duration
	log    zerolog.Logger
}

// NewTailNotifier constructs a TailNotifier. rearm is the interval at which
// watched rooms are re-read from source in case a notification was missed.
func NewTailNotifier(source TailSource, rearm time.Duration, logger zerolog.Logger) *TailNotifier {
	return &TailNotifier{
		b:      NewBroadcaster[int64](),
		source: source,
		rearm:  rearm,
		log:    logger.With().Str("component", "tail_notifier").Logger(),
	}
}

// Advance records tail for roomID. Values not greater than the cached tail are ignored.
func (n *TailNotifier) Advance(roomID string, tail int64) bool {
	return n.b.Update(roomID, func(cur int64, set bool) (int64, bool) {
		return tail, !set || tail > cur
	})
}

// Subscribe returns a subscription to roomID's tail.
func (n *TailNotifier) Subscribe(roomID string) *TailSubscription {
	return &TailSubscription{n: n, sub: n.b.Subscribe(roomID)}
}

// Refresh re-reads the tail of every room with waiters.
func (n *TailNotifier) Refresh(ctx context.Context) {
	for _, roomID := range n.b.Watched() {
		tail, err := n.source(ctx, roomID)
		if err != nil {
			n.log.Warn().Err(err).Str("room", roomID).Msg("tail refresh failed")
			continue
		}
		if n.Advance(roomID, tail) {
			n.log.Debug().Str("room", roomID).Int64("tail", tail).Msg("tail advanced on refresh")
		}
	}
}

// Run refreshes watched rooms every rearm interval until ctx ends. Without a
// native watch this is the polling fallback; with one it re-arms stalled watches.
func (n *TailNotifier) Run(ctx context.Context) {
	ticker := time.NewTicker(n.rearm)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.Refresh(ctx)
		}
	}
}

// TailSubscription is one connection's interest in a room tail.
type TailSubscription struct {
	n   *TailNotifier
	sub *Subscription[int64]
}

// AwaitAdvance blocks until the room tail differs from known and returns it.
func (s *TailSubscription) AwaitAdvance(ctx context.Context, known int64) (int64, error) {
	s.n.Advance(s.sub.Key(), known)
	return s.sub.Next(ctx, known)
}

// Cancel releases a pending AwaitAdvance.
func (s *TailSubscription) Cancel() {
	s.sub.Cancel()
}

// FormatTailEvent encodes a tail advance as a NOTIFY payload.
func FormatTailEvent(roomID string, tail int64) string {
	return roomID + ":" + strconv.FormatInt(tail, 10)
}

// ParseTailEvent decodes a NOTIFY payload produced by FormatTailEvent.
func ParseTailEvent(payload string) (string, int64, error) {
	idx := strings.LastIndex(payload, ":")
	if idx <= 0 {
		return "", 0, fmt.Errorf("malformed tail event %q", payload)
	}
	tail, err := strconv.ParseInt(payload[idx+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed tail event %q: %w", payload, err)
	}
	return payload[:idx], tail, nil
}
