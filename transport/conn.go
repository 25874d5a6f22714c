// Package transport implements the Twilio Media Streams leg of the bridge:
// a persistent websocket carrying JSON events for one phone call.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Conn is one Media Streams connection. Reads must come from a single
// goroutine; writes are serialized internally so both relay directions
// may send.
type Conn struct {
	ws  *websocket.Conn
	log *slog.Logger

	writeMu sync.Mutex

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// Upgrade accepts an incoming Media Streams websocket.
func Upgrade(w http.ResponseWriter, r *http.Request, log *slog.Logger) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade failed: %w", err)
	}
	return NewConn(ws, log), nil
}

// NewConn wraps an established websocket.
func NewConn(ws *websocket.Conn, log *slog.Logger) *Conn {
	if log == nil {
		log = slog.Default()
	}
	return &Conn{ws: ws, log: log}
}

// ReadEvent returns the next recognized event. Malformed or unknown
// messages are skipped; only connection failure ends the stream.
func (c *Conn) ReadEvent() (Event, error) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, fmt.Errorf("telephony leg closed: %w", err)
			}
			return nil, fmt.Errorf("telephony read: %w", err)
		}

		ev, err := ParseEvent(data)
		if err != nil {
			if !errors.Is(err, ErrUnknownEvent) {
				c.log.Debug("dropping malformed telephony event", "error", err)
			}
			continue
		}
		return ev, nil
	}
}

// SendMedia forwards one base64 u-law audio chunk to the caller.
func (c *Conn) SendMedia(streamSID, payload string) error {
	return c.writeJSON(map[string]any{
		"event":     "media",
		"streamSid": streamSID,
		"media": map[string]string{
			"payload": payload,
		},
	})
}

// SendMark queues a named delivery marker behind buffered audio; Twilio
// echoes it back once everything ahead of it has played.
func (c *Conn) SendMark(streamSID, name string) error {
	return c.writeJSON(map[string]any{
		"event":     "mark",
		"streamSid": streamSID,
		"mark": map[string]string{
			"name": name,
		},
	})
}

// SendClear tells Twilio to discard buffered, unplayed audio for the stream.
func (c *Conn) SendClear(streamSID string) error {
	return c.writeJSON(map[string]any{
		"event":     "clear",
		"streamSid": streamSID,
	})
}

func (c *Conn) writeJSON(msg any) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return errors.New("transport: connection closed")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(msg)
}

// Close closes the websocket. Safe to call more than once and from any
// goroutine; a blocked ReadEvent returns with an error.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		_ = c.ws.Close()
	})
	return nil
}
