// Package realtime implements the speech-model leg of the bridge: a
// websocket client for the realtime voice API speaking g711 u-law in
// both directions.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"

	"github.com/gorilla/websocket"
)

const (
	// DefaultURL is the realtime API websocket endpoint.
	DefaultURL = "wss://api.openai.com/v1/realtime"

	// DefaultModel is dialed when Config.Model is empty.
	DefaultModel = "gpt-4o-realtime-preview-2024-10-01"
)

// Config configures a realtime connection.
type Config struct {
	APIKey string // falls back to OPENAI_API_KEY
	Model  string
	URL    string

	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// SessionConfig is the one-time session.update sent before any audio.
type SessionConfig struct {
	Voice        string
	Instructions string
	Temperature  float64
}

// Client is one realtime connection. Reads must come from a single
// goroutine; writes are serialized internally since both relay
// directions send (audio appends and truncate instructions).
type Client struct {
	ws  *websocket.Conn
	log *slog.Logger

	writeMu sync.Mutex

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// Dial connects to the realtime API.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("realtime: OPENAI_API_KEY is required")
	}

	base := cfg.URL
	if base == "" {
		base = DefaultURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("realtime: invalid URL: %w", err)
	}
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("realtime dial: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Client{ws: ws, log: log}, nil
}

// NewClient wraps an established websocket. Used by tests and by callers
// that manage dialing themselves.
func NewClient(ws *websocket.Conn, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{ws: ws, log: log}
}

// InitializeSession sends the session.update that fixes turn detection,
// audio formats, voice and instructions for the connection's lifetime.
func (c *Client) InitializeSession(cfg SessionConfig) error {
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.8
	}

	return c.writeJSON(map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"turn_detection":      map[string]string{"type": "server_vad"},
			"input_audio_format":  "g711_ulaw",
			"output_audio_format": "g711_ulaw",
			"voice":               cfg.Voice,
			"instructions":        cfg.Instructions,
			"modalities":          []string{"text", "audio"},
			"temperature":         temperature,
		},
	})
}

// ReadEvent returns the next decoded backend event. Malformed messages
// are skipped; only connection failure ends the stream.
func (c *Client) ReadEvent() (Event, error) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("realtime read: %w", err)
		}

		ev, err := ParseEvent(data)
		if err != nil {
			c.log.Debug("dropping malformed realtime event", "error", err)
			continue
		}
		return ev, nil
	}
}

// AppendAudio forwards one base64 u-law chunk of caller audio to the
// model's input buffer.
func (c *Client) AppendAudio(payload string) error {
	return c.writeJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": payload,
	})
}

// TruncateItem discards the unplayed tail of an in-flight response: the
// caller heard audioEndMs milliseconds of item itemID and nothing after.
func (c *Client) TruncateItem(itemID string, contentIndex int, audioEndMs int64) error {
	return c.writeJSON(map[string]any{
		"type":          "conversation.item.truncate",
		"item_id":       itemID,
		"content_index": contentIndex,
		"audio_end_ms":  audioEndMs,
	})
}

// IsOpen reports whether the connection is still usable. The inbound
// relay drops frames while the leg is down rather than buffering.
func (c *Client) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

func (c *Client) writeJSON(msg any) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return errors.New("realtime: connection closed")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(msg)
}

// Close closes the websocket. Safe to call more than once and from any
// goroutine; a blocked ReadEvent returns with an error.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		_ = c.ws.Close()
	})
	return nil
}
