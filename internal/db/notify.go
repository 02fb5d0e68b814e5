package db

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Notifier follows the NOTIFY channel that PostgresStore publishes saved
// session ids on.
type Notifier struct {
	DSN     string
	Channel string
	Log     zerolog.Logger
}

// NewNotifier constructs a new Notifier.  The channel should match the
// NOTIFY_CHANNEL the store was configured with.
func NewNotifier(dsn, channel string, log zerolog.Logger) *Notifier {
	return &Notifier{DSN: dsn, Channel: channel, Log: log}
}

// Listen delivers session ids as they are announced until ctx is cancelled,
// then closes the returned channel.  A dedicated connection is used, and the
// listener reconnects on its own after connection loss.
func (n *Notifier) Listen(ctx context.Context) (<-chan string, error) {
	listener := pq.NewListener(n.DSN, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			n.Log.Warn().Err(err).Int("event", int(ev)).Msg("listener connection event")
		}
	})
	if err := listener.Listen(n.Channel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("listen %s: %w", pq.QuoteIdentifier(n.Channel), err)
	}

	ch := make(chan string)
	go func() {
		defer func() {
			_ = listener.Close()
			close(ch)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case note := <-listener.Notify:
				// nil after a reconnect; notifications may have been missed.
				if note == nil {
					continue
				}
				select {
				case ch <- note.Extra:
				case <-ctx.Done():
					return
				}
			case <-time.After(90 * time.Second):
				go listener.Ping()
			}
		}
	}()
	return ch, nil
}
