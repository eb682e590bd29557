package transport

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/lib/pq"

	apperrors "github.com/backline-app/backline/internal/errors"
	"github.com/backline-app/backline/internal/logging"
	"github.com/backline-app/backline/internal/models"
)

const (
	feedChannelPrefix = "changelog_"
	feedMinReconnect  = 2 * time.Second
	feedMaxReconnect  = time.Minute
	feedPingInterval  = 90 * time.Second
)

// PostgresFeed subscribes to the cloud store's change log via LISTEN/NOTIFY.
// The cloud side's triggers pg_notify one JSON ChangeLogEntry per committed
// mutation on channel "changelog_<scope>". Entries published while no
// listener is connected are not backfilled.
type PostgresFeed struct {
	dsn string
}

// NewPostgresFeed creates a feed for the given Postgres DSN.
func NewPostgresFeed(dsn string) (*PostgresFeed, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "change feed DSN must not be empty")
	}
	return &PostgresFeed{dsn: dsn}, nil
}

type postgresChannel struct {
	listener *pq.Listener
	done     chan struct{}
}

// Subscribe opens one pq.Listener on the scope's notification channel.
func (f *PostgresFeed) Subscribe(ctx context.Context, scope models.UUID,
	onEntry EntryHandler, onStatus StatusHandler) (Channel, error) {

	listener := pq.NewListener(f.dsn, feedMinReconnect, feedMaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			switch ev {
			case pq.ListenerEventConnected, pq.ListenerEventReconnected:
				onStatus(scope, true, nil)
			case pq.ListenerEventDisconnected:
				onStatus(scope, false, err)
			case pq.ListenerEventConnectionAttemptFailed:
				onStatus(scope, false, err)
			}
		})

	if err := listener.Listen(feedChannelPrefix + string(scope)); err != nil {
		// Release the half-open listener before reporting failure.
		listener.Close()
		return nil, apperrors.Wrap(apperrors.ErrSubscribeFailed,
			"LISTEN failed for scope "+string(scope), err)
	}

	ch := &postgresChannel{
		listener: listener,
		done:     make(chan struct{}),
	}
	go ch.receive(ctx, scope, onEntry)
	return ch, nil
}

// receive pumps notifications until the channel closes.
func (c *postgresChannel) receive(ctx context.Context, scope models.UUID, onEntry EntryHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case n := <-c.listener.Notify:
			if n == nil {
				// nil notification signals a reconnect; entries published
				// during the gap are lost (no persisted cursor).
				continue
			}
			var entry models.ChangeLogEntry
			if err := json.Unmarshal([]byte(n.Extra), &entry); err != nil {
				logging.Warn("Discarding undecodable change-log notification",
					map[string]interface{}{"scope": scope, "error": err.Error()})
				continue
			}
			onEntry(&entry)
		case <-time.After(feedPingInterval):
			if err := c.listener.Ping(); err != nil {
				logging.Warn("Change feed ping failed",
					map[string]interface{}{"scope": scope, "error": err.Error()})
			}
		}
	}
}

// Close tears down the listener. Safe to call more than once.
func (c *postgresChannel) Close() error {
	select {
	case <-c.done:
		return nil
	default:
		close(c.done)
	}
	return c.listener.Close()
}
