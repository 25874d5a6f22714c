// Package callsystem manages PSTN call lifecycle over the Twilio REST
// API: outbound dialing, status-callback handling and the in-memory view
// of active calls.
package callsystem

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentplexus/voicebridge/internal/client"
)

// CallDirection is inbound or outbound.
type CallDirection string

const (
	Inbound  CallDirection = "inbound"
	Outbound CallDirection = "outbound"
)

// CallStatus is the normalized call state.
type CallStatus string

const (
	StatusRinging  CallStatus = "ringing"
	StatusAnswered CallStatus = "answered"
	StatusEnded    CallStatus = "ended"
	StatusBusy     CallStatus = "busy"
	StatusNoAnswer CallStatus = "no-answer"
	StatusFailed   CallStatus = "failed"
)

// Call is one tracked call.
type Call struct {
	SID       string
	Direction CallDirection
	Status    CallStatus
	From      string
	To        string
	StartTime time.Time
}

// Config configures the Manager.
type Config struct {
	// From is the default outbound caller number.
	From string
	// AnswerURL is the webhook Twilio fetches when an outbound call is
	// answered; it returns the media-stream TwiML.
	AnswerURL string
	// StatusCallbackURL receives call status updates.
	StatusCallbackURL string
	// Record enables dual-channel call recording on outbound calls.
	Record bool

	Logger *slog.Logger
}

// Manager tracks active calls and drives the REST API.
type Manager struct {
	client *client.Client
	cfg    Config
	log    *slog.Logger

	mu      sync.RWMutex
	calls   map[string]*Call
	onEnded func(callSID string)
}

// NewManager creates a call manager over an authenticated Twilio client.
func NewManager(cl *client.Client, cfg Config) *Manager {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		client: cl,
		cfg:    cfg,
		log:    log,
		calls:  make(map[string]*Call),
	}
}

// OnCallEnded registers a hook invoked once per call when a terminal
// status arrives. Used to release the call's pre-established realtime leg.
func (m *Manager) OnCallEnded(fn func(callSID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnded = fn
}

// StartOutbound places a call that connects to the media stream when
// answered.
func (m *Manager) StartOutbound(ctx context.Context, to string) (*Call, error) {
	if m.cfg.From == "" {
		return nil, fmt.Errorf("callsystem: outbound caller number not configured")
	}

	params := &client.MakeCallParams{
		To:     to,
		From:   m.cfg.From,
		URL:    m.cfg.AnswerURL,
		Record: m.cfg.Record,
	}
	if m.cfg.StatusCallbackURL != "" {
		params.StatusCallback = m.cfg.StatusCallbackURL
		params.StatusCallbackEvent = []string{"initiated", "ringing", "answered", "completed"}
	}

	created, err := m.client.MakeCall(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("callsystem: outbound dial: %w", err)
	}

	call := &Call{
		SID:       created.SID,
		Direction: Outbound,
		Status:    mapStatus(created.Status),
		From:      m.cfg.From,
		To:        to,
		StartTime: time.Now(),
	}

	m.mu.Lock()
	m.calls[call.SID] = call
	m.mu.Unlock()

	m.log.Info("outbound call started", "call_sid", call.SID, "to", to)
	return call, nil
}

// HandleIncoming records an inbound call announced by the voice webhook.
func (m *Manager) HandleIncoming(callSID, from, to string) *Call {
	call := &Call{
		SID:       callSID,
		Direction: Inbound,
		Status:    StatusRinging,
		From:      from,
		To:        to,
		StartTime: time.Now(),
	}

	m.mu.Lock()
	m.calls[callSID] = call
	m.mu.Unlock()

	m.log.Info("inbound call", "call_sid", callSID, "from", from)
	return call
}

// HandleStatusCallback applies a Twilio status update. Terminal statuses
// drop the call and fire the ended hook exactly once.
func (m *Manager) HandleStatusCallback(callSID, status string) {
	mapped := mapStatus(status)
	terminal := isTerminal(status)

	m.mu.Lock()
	call, tracked := m.calls[callSID]
	if tracked {
		call.Status = mapped
		if terminal {
			delete(m.calls, callSID)
		}
	}
	ended := m.onEnded
	m.mu.Unlock()

	m.log.Info("call status", "call_sid", callSID, "status", status, "terminal", terminal)

	if terminal && ended != nil {
		ended(callSID)
	}
}

// Hangup ends a call via the REST API.
func (m *Manager) Hangup(ctx context.Context, callSID string) error {
	if _, err := m.client.HangupCall(ctx, callSID); err != nil {
		return fmt.Errorf("callsystem: hangup %s: %w", callSID, err)
	}
	return nil
}

// GetCall returns the tracked view of a call.
func (m *Manager) GetCall(callSID string) (*Call, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	call, ok := m.calls[callSID]
	return call, ok
}

// ActiveCalls returns the number of tracked calls.
func (m *Manager) ActiveCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// mapStatus maps a Twilio status string to the normalized status.
func mapStatus(status string) CallStatus {
	switch status {
	case "queued", "ringing", "initiated":
		return StatusRinging
	case "in-progress", "answered":
		return StatusAnswered
	case "completed", "canceled":
		return StatusEnded
	case "busy":
		return StatusBusy
	case "no-answer":
		return StatusNoAnswer
	case "failed":
		return StatusFailed
	default:
		return StatusRinging
	}
}

// isTerminal reports whether a Twilio status ends the call.
func isTerminal(status string) bool {
	switch status {
	case "completed", "failed", "busy", "no-answer", "canceled":
		return true
	}
	return false
}
