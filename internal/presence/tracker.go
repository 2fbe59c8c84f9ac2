// Package presence tracks best-effort online flags per room and broadcasts the
// resulting online counts.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"roomchat/internal/models"
	"roomchat/internal/notify"
)

// Store keeps the latest beacon per (user, room). Older beacons lose.
type Store interface {
	Set(ctx context.Context, beacon models.PresenceBeacon) error
	Online(ctx context.Context, roomID string) (int, error)
}

// Tracker records beacons and publishes online counts per room.
type Tracker struct {
	mu     sync.Mutex
	store  Store
	counts *notify.Broadcaster[int]
	log    zerolog.Logger
	now    func() time.Time
}

func NewTracker(store Store, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		counts: notify.NewBroadcaster[int](),
		log:    logger.With().Str("component", "presence").Logger(),
		now:    time.Now,
	}
}

// SetPresence records a beacon stamped with the current time. Failures are logged only.
func (t *Tracker) SetPresence(ctx context.Context, userID, roomID string, present bool) {
	beacon := models.PresenceBeacon{
		UserID:    userID,
		RoomID:    roomID,
		Present:   present,
		Timestamp: t.now().UnixMilli(),
	}
	if err := t.store.Set(ctx, beacon); err != nil {
		t.log.Warn().Err(err).Str("user", userID).Str("room", roomID).Msg("presence set failed")
		return
	}
	t.refresh(ctx, roomID)
}

// Online returns the current online estimate for roomID.
func (t *Tracker) Online(ctx context.Context, roomID string) (int, error) {
	return t.store.Online(ctx, roomID)
}

// Subscribe returns a subscription to roomID's online count.
func (t *Tracker) Subscribe(roomID string) *notify.Subscription[int] {
	return t.counts.Subscribe(roomID)
}

// refresh reads and publishes under mu so a slower reader cannot publish a
// stale count over a newer one.
func (t *Tracker) refresh(ctx context.Context, roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.counts.Subscribed(roomID) {
		return
	}
	n, err := t.store.Online(ctx, roomID)
	if err != nil {
		t.log.Warn().Err(err).Str("room", roomID).Msg("presence count failed")
		return
	}
	t.counts.Publish(roomID, n)
}
