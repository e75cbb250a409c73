package ari

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/coder/websocket"
)

const eventChanDepth = 64

// EventStream consumes the ARI WebSocket event feed and delivers decoded
// events in arrival order. It does not reconnect; a dropped feed closes the
// channel and leaves the restart decision to the caller.
type EventStream struct {
	url       string
	username  string
	password  string
	stasisApp string
}

// NewEventStream prepares (but does not open) the event feed. eventsURL is
// the ws:// or wss:// ARI events endpoint; credentials ride along as the
// api_key query parameter the way ARI expects.
func NewEventStream(eventsURL, username, password, stasisApp string) *EventStream {
	return &EventStream{
		url:       eventsURL,
		username:  username,
		password:  password,
		stasisApp: stasisApp,
	}
}

// Connect dials the feed and starts the read loop. The returned channel
// carries events in arrival order and closes when the feed drops or ctx is
// cancelled.
func (s *EventStream) Connect(ctx context.Context) (<-chan *Event, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return nil, fmt.Errorf("ari: events url: %w", err)
	}
	q := u.Query()
	q.Set("app", s.stasisApp)
	q.Set("api_key", s.username+":"+s.password)
	q.Set("subscribeAll", "false")
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("ari: dial events: %w", err)
	}
	// ARI batches events; allow oversized JSON payloads.
	conn.SetReadLimit(1 << 20)

	ch := make(chan *Event, eventChanDepth)
	go s.readLoop(ctx, conn, ch)
	return ch, nil
}

// readLoop owns the events channel and closes it on exit.
func (s *EventStream) readLoop(ctx context.Context, conn *websocket.Conn, ch chan<- *Event) {
	defer close(ch)
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("ari: event stream dropped", "err", err)
			}
			return
		}

		ev, err := ParseEvent(data)
		if err != nil {
			slog.Warn("ari: skipping undecodable event", "err", err)
			continue
		}

		select {
		case ch <- ev:
		case <-ctx.Done():
			return
		}
	}
}
