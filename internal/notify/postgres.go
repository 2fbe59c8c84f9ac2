package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// ListenPostgres feeds pg_notify tail events into n until ctx ends. After the
// listener reconnects, watched rooms are refreshed since notifications sent
// while disconnected are lost.
func ListenPostgres(ctx context.Context, dsn string, n *TailNotifier, logger zerolog.Logger) error {
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn().Err(err).Int("event", int(ev)).Msg("tail listener event")
		}
	})
	defer listener.Close()

	if err := listener.Listen(TailChannel); err != nil {
		return fmt.Errorf("listen %s: %w", TailChannel, err)
	}
	logger.Info().Str("channel", TailChannel).Msg("listening for tail notifications")

	return consumeNotifications(ctx, listener.Notify, n, pingInterval, func() { go listener.Ping() }, logger)
}

// pingInterval is how often an idle or busy listener checks its connection.
const pingInterval = 90 * time.Second

func consumeNotifications(ctx context.Context, notes <-chan *pq.Notification, n *TailNotifier, every time.Duration, ping func(), logger zerolog.Logger) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case note := <-notes:
			if note == nil {
				n.Refresh(ctx)
				continue
			}
			roomID, tail, err := ParseTailEvent(note.Extra)
			if err != nil {
				logger.Warn().Err(err).Msg("dropping tail notification")
				continue
			}
			n.Advance(roomID, tail)
		case <-ticker.C:
			ping()
		}
	}
}
