package realtime

import (
	"encoding/json"
	"errors"
)

// Event is one decoded backend message. AudioDeltaEvent and
// SpeechStartedEvent drive the bridge; ErrorEvent and GenericEvent are
// observability passthrough.
type Event interface {
	event()
}

// AudioDeltaEvent carries one chunk of synthesized audio (base64 u-law).
// ItemID identifies the response unit the chunk belongs to; it may be
// empty on deltas that do not repeat it.
type AudioDeltaEvent struct {
	ItemID string
	Delta  string
}

// SpeechStartedEvent signals that the backend's voice-activity detection
// heard the caller start speaking.
type SpeechStartedEvent struct{}

// ErrorEvent reports a backend error. The connection stays usable; a
// fatal backend failure manifests as the websocket closing.
type ErrorEvent struct {
	Code    string
	Message string
}

// GenericEvent is any other recognized-but-unhandled event kind.
type GenericEvent struct {
	Type string
}

func (AudioDeltaEvent) event()    {}
func (SpeechStartedEvent) event() {}
func (ErrorEvent) event()         {}
func (GenericEvent) event()       {}

type wireEvent struct {
	Type   string `json:"type"`
	Delta  string `json:"delta,omitempty"`
	ItemID string `json:"item_id,omitempty"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ParseEvent decodes one backend message into its tagged event.
func ParseEvent(data []byte) (Event, error) {
	var msg wireEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Type == "" {
		return nil, errors.New("realtime: event without type")
	}

	switch msg.Type {
	case "response.audio.delta":
		if msg.Delta == "" {
			return nil, errors.New("realtime: audio delta without payload")
		}
		return AudioDeltaEvent{ItemID: msg.ItemID, Delta: msg.Delta}, nil

	case "input_audio_buffer.speech_started":
		return SpeechStartedEvent{}, nil

	case "error":
		ev := ErrorEvent{}
		if msg.Error != nil {
			ev.Code = msg.Error.Code
			ev.Message = msg.Error.Message
		}
		return ev, nil

	default:
		return GenericEvent{Type: msg.Type}, nil
	}
}
