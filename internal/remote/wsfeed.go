// Package remote defines the boundary to the shared remote store.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/habitsync/habitsync/internal/logging"
	"github.com/habitsync/habitsync/internal/models"
)

// wsFeed streams change notifications for one table over a websocket,
// reconnecting with backoff until its context is cancelled.
type wsFeed struct {
	config *HTTPConfig
	table  models.Table
	userID string

	reconnectMin time.Duration
	reconnectMax time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSFeed(config *HTTPConfig, table models.Table, userID string) *wsFeed {
	return &wsFeed{
		config:       config,
		table:        table,
		userID:       userID,
		reconnectMin: time.Second,
		reconnectMax: 30 * time.Second,
	}
}

// run dials the feed and returns the event channel. The first dial is
// synchronous so subscription failures surface to the caller; later
// reconnects happen in the background.
func (f *wsFeed) run(ctx context.Context) (<-chan ChangeEvent, error) {
	conn, err := f.dial(ctx)
	if err != nil {
		return nil, err
	}
	f.setConn(conn)

	// Close the live socket when the context ends so ReadMessage unblocks.
	go func() {
		<-ctx.Done()
		f.closeConn()
	}()

	events := make(chan ChangeEvent, 16)
	go f.readLoop(ctx, events)
	return events, nil
}

func (f *wsFeed) setConn(conn *websocket.Conn) {
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
}

func (f *wsFeed) closeConn() {
	f.mu.Lock()
	if f.conn != nil {
		f.conn.Close()
	}
	f.mu.Unlock()
}

func (f *wsFeed) current() *websocket.Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn
}

func (f *wsFeed) dial(ctx context.Context) (*websocket.Conn, error) {
	u := fmt.Sprintf("%s?table=%s&user_id=%s", f.config.WSURL, f.table, url.QueryEscape(f.userID))

	header := map[string][]string{}
	if f.config.Token != nil {
		token, err := f.config.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("token: %w", err)
		}
		if token != "" {
			header["Authorization"] = []string{"Bearer " + token}
		}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, header)
	if err != nil {
		return nil, fmt.Errorf("dial change feed for %s: %w", f.table, err)
	}
	return conn, nil
}

// readLoop pumps frames into the event channel, reconnecting on failure.
// The channel closes once ctx is cancelled.
func (f *wsFeed) readLoop(ctx context.Context, events chan<- ChangeEvent) {
	defer close(events)
	defer f.closeConn()

	backoff := f.reconnectMin
	for {
		conn := f.current()
		if conn == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > f.reconnectMax {
				backoff = f.reconnectMax
			}

			next, err := f.dial(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			f.setConn(next)
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Warn("Change feed disconnected, reconnecting",
				map[string]interface{}{"table": string(f.table), "backoff": backoff.String()})
			conn.Close()
			f.setConn(nil)
			continue
		}
		backoff = f.reconnectMin

		var event ChangeEvent
		if err := json.Unmarshal(data, &event); err != nil {
			logging.Warn("Dropping malformed change event",
				map[string]interface{}{"table": string(f.table), "error": err.Error()})
			continue
		}
		if event.Table == "" {
			event.Table = f.table
		}

		select {
		case events <- event:
		case <-ctx.Done():
			return
		}
	}
}
