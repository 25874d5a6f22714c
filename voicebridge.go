// Package voicebridge bridges Twilio Media Streams calls to a realtime
// speech model over a second websocket, relaying u-law audio in both
// directions and interrupting in-flight responses when the caller speaks.
//
// The repository is organized by concern:
//   - bridge: the per-call session core (relay loops, playback clock,
//     mark tracking, barge-in)
//   - transport: the Twilio Media Streams leg
//   - realtime: the speech-model leg
//   - callsystem: PSTN call control over the Twilio REST API
//   - twiml: voice-response documents for the call webhooks
//   - tts: one-shot ElevenLabs synthesis for the non-streaming demo path
//
// # Environment Variables
//
//	TWILIO_ACCOUNT_SID - Twilio Account SID
//	TWILIO_AUTH_TOKEN  - Twilio Auth Token
//	OPENAI_API_KEY     - realtime backend API key
package voicebridge

// Version is the SDK version.
const Version = "0.1.0"

// Twilio API constants.
const (
	// DefaultAPIBaseURL is the Twilio REST API base URL.
	DefaultAPIBaseURL = "https://api.twilio.com/2010-04-01"
)

// Realtime backend constants.
const (
	// DefaultRealtimeURL is the websocket endpoint of the realtime speech API.
	DefaultRealtimeURL = "wss://api.openai.com/v1/realtime"

	// DefaultRealtimeModel is the model dialed when none is configured.
	DefaultRealtimeModel = "gpt-4o-realtime-preview-2024-10-01"
)

// Audio format constants for Media Streams. Audio passes through the
// bridge unmodified in this encoding on both legs.
const (
	// AudioEncodingMulaw is the μ-law encoding (8-bit, 8kHz).
	AudioEncodingMulaw = "audio/x-mulaw"

	// AudioFormatG711Ulaw is the same encoding as named by the realtime API.
	AudioFormatG711Ulaw = "g711_ulaw"

	// DefaultSampleRate is the telephony sample rate (8kHz narrowband).
	DefaultSampleRate = 8000
)

// Call status constants.
const (
	CallStatusQueued     = "queued"
	CallStatusRinging    = "ringing"
	CallStatusInProgress = "in-progress"
	CallStatusCompleted  = "completed"
	CallStatusBusy       = "busy"
	CallStatusFailed     = "failed"
	CallStatusNoAnswer   = "no-answer"
	CallStatusCanceled   = "canceled"
)
