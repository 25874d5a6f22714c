package transport

import (
	"encoding/json"
	"errors"
)

// ErrUnknownEvent is returned by ParseEvent for event kinds the bridge
// does not recognize. Callers treat it as "skip this message".
var ErrUnknownEvent = errors.New("transport: unknown event")

// Event is one decoded Media Streams message. The set of implementations
// is closed: StartEvent, MediaEvent, MarkEvent, StopEvent, ConnectedEvent.
type Event interface {
	event()
}

// StartEvent begins a logical stream. A second StartEvent on the same
// connection is a stream restart and resets all derived session state.
type StartEvent struct {
	StreamSID string
	CallSID   string
}

// MediaEvent carries one inbound audio frame. Payload is the base64
// encoded u-law audio exactly as received; Timestamp is milliseconds
// since stream start.
type MediaEvent struct {
	Timestamp int64
	Payload   string
}

// MarkEvent acknowledges delivery of one previously sent audio chunk.
type MarkEvent struct {
	Name string
}

// StopEvent ends the stream.
type StopEvent struct{}

// ConnectedEvent is the initial handshake message. Observability only.
type ConnectedEvent struct{}

func (StartEvent) event()     {}
func (MediaEvent) event()     {}
func (MarkEvent) event()      {}
func (StopEvent) event()      {}
func (ConnectedEvent) event() {}

// Media Streams wire messages.
type wireMessage struct {
	Event string     `json:"event"`
	Start *wireStart `json:"start,omitempty"`
	Media *wireMedia `json:"media,omitempty"`
	Mark  *wireMark  `json:"mark,omitempty"`
}

type wireStart struct {
	StreamSID string `json:"streamSid"`
	CallSID   string `json:"callSid"`
}

type wireMedia struct {
	// Twilio sends the timestamp as a JSON string.
	Timestamp json.Number `json:"timestamp"`
	Payload   string      `json:"payload"`
}

type wireMark struct {
	Name string `json:"name"`
}

// ParseEvent decodes one Media Streams message into its tagged event.
// Unrecognized kinds yield ErrUnknownEvent; messages missing required
// fields are reported as errors so the reader can drop them.
func ParseEvent(data []byte) (Event, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}

	switch msg.Event {
	case "connected":
		return ConnectedEvent{}, nil

	case "start":
		if msg.Start == nil || msg.Start.StreamSID == "" {
			return nil, errors.New("transport: start event without streamSid")
		}
		return StartEvent{StreamSID: msg.Start.StreamSID, CallSID: msg.Start.CallSID}, nil

	case "media":
		if msg.Media == nil || msg.Media.Payload == "" {
			return nil, errors.New("transport: media event without payload")
		}
		ts, err := msg.Media.Timestamp.Int64()
		if err != nil {
			return nil, errors.New("transport: media event with unparseable timestamp")
		}
		return MediaEvent{Timestamp: ts, Payload: msg.Media.Payload}, nil

	case "mark":
		var name string
		if msg.Mark != nil {
			name = msg.Mark.Name
		}
		return MarkEvent{Name: name}, nil

	case "stop":
		return StopEvent{}, nil

	default:
		return nil, ErrUnknownEvent
	}
}
