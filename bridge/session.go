// Package bridge implements the per-call core: two relay loops pumping
// audio between a Twilio Media Streams connection and a realtime speech
// model, with playback-position tracking and caller barge-in.
package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/agentplexus/voicebridge/realtime"
	"github.com/agentplexus/voicebridge/transport"
)

// TelephonyLeg is the Media Streams side of a session.
type TelephonyLeg interface {
	ReadEvent() (transport.Event, error)
	SendMedia(streamSID, payload string) error
	SendMark(streamSID, name string) error
	SendClear(streamSID string) error
	Close() error
}

// AILeg is the speech-model side of a session.
type AILeg interface {
	ReadEvent() (realtime.Event, error)
	AppendAudio(payload string) error
	TruncateItem(itemID string, contentIndex int, audioEndMs int64) error
	IsOpen() bool
	Close() error
}

// AIDialer establishes and initializes a fresh realtime leg for calls
// that do not have one registered.
type AIDialer func(ctx context.Context) (AILeg, error)

// Verify the protocol packages satisfy the leg interfaces.
var (
	_ TelephonyLeg = (*transport.Conn)(nil)
	_ AILeg        = (*realtime.Client)(nil)
)

// Session owns the state of one bridged call: both legs, the playback
// clock, the mark queue and the in-flight response identifier. Shared
// state is guarded by mu; the lock is held only for short state updates,
// never across a network send.
type Session struct {
	telephony TelephonyLeg
	dial      AIDialer
	registry  *Registry
	log       *slog.Logger

	mu                sync.Mutex
	streamSID         string
	callSID           string
	clock             AudioClock
	marks             MarkTracker
	lastAssistantItem string
	ai                AILeg

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewSession creates a session for one telephony connection. The
// realtime leg is attached when the stream's start event arrives: reused
// from the registry when the call pre-dialed one, dialed fresh otherwise.
// registry may be nil.
func NewSession(telephony TelephonyLeg, dial AIDialer, registry *Registry, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		telephony: telephony,
		dial:      dial,
		registry:  registry,
		log:       log,
	}
}

// Run pumps both legs until either disconnects or ctx is canceled. It
// always tears down both connections before returning. Run is the
// telephony-to-model relay; the model-to-telephony relay runs on its own
// goroutine once the realtime leg is attached.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	err := s.relayInbound(ctx)
	s.Close()
	s.wg.Wait()
	return err
}

// Close tears down both legs. Safe to call from any goroutine; blocked
// reads on either leg return promptly.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		_ = s.telephony.Close()
		s.mu.Lock()
		ai := s.ai
		s.mu.Unlock()
		if ai != nil {
			_ = ai.Close()
		}
	})
}

// relayInbound processes telephony events until the stream stops or the
// connection breaks.
func (s *Session) relayInbound(ctx context.Context) error {
	for {
		ev, err := s.telephony.ReadEvent()
		if err != nil {
			s.log.Info("telephony leg ended", "stream_sid", s.currentStreamSID(), "reason", err)
			return nil
		}

		switch ev := ev.(type) {
		case transport.StartEvent:
			if err := s.handleStart(ctx, ev); err != nil {
				return err
			}

		case transport.MediaEvent:
			s.handleInboundMedia(ev)

		case transport.MarkEvent:
			s.mu.Lock()
			s.marks.RecordAcknowledged()
			s.mu.Unlock()

		case transport.StopEvent:
			s.log.Info("stream stopped", "stream_sid", s.currentStreamSID())
			return nil

		case transport.ConnectedEvent:
			s.log.Debug("telephony leg connected")
		}
	}
}

// handleStart (re)initializes the session for a logical stream. A second
// start on the same connection is a stream restart: all derived state is
// reset but an already-attached realtime leg is kept.
func (s *Session) handleStart(ctx context.Context, ev transport.StartEvent) error {
	s.mu.Lock()
	s.streamSID = ev.StreamSID
	s.callSID = ev.CallSID
	s.clock.Reset()
	s.marks.Clear()
	s.lastAssistantItem = ""
	attached := s.ai != nil
	s.mu.Unlock()

	s.log.Info("stream started", "stream_sid", ev.StreamSID, "call_sid", ev.CallSID, "restart", attached)

	if attached {
		return nil
	}

	var leg AILeg
	if s.registry != nil {
		if reused, ok := s.registry.Take(ev.CallSID); ok {
			s.log.Info("reusing pre-established realtime leg", "call_sid", ev.CallSID)
			leg = reused
		}
	}
	if leg == nil {
		dialed, err := s.dial(ctx)
		if err != nil {
			s.log.Error("realtime dial failed", "call_sid", ev.CallSID, "error", err)
			return err
		}
		leg = dialed
	}

	s.mu.Lock()
	s.ai = leg
	s.mu.Unlock()

	s.wg.Add(1)
	go s.relayOutbound(leg)
	return nil
}

// handleInboundMedia updates the playback clock and forwards the frame.
// Frames arriving while the realtime leg is down are dropped; the leg
// does not buffer or retry.
func (s *Session) handleInboundMedia(ev transport.MediaEvent) {
	s.mu.Lock()
	s.clock.ObserveInboundFrame(ev.Timestamp)
	ai := s.ai
	s.mu.Unlock()

	if ai == nil || !ai.IsOpen() {
		return
	}
	if err := ai.AppendAudio(ev.Payload); err != nil {
		s.log.Debug("dropping frame, realtime append failed", "error", err)
	}
}

// relayOutbound processes realtime events until the leg closes, then
// tears the session down so the telephony read unblocks too.
func (s *Session) relayOutbound(ai AILeg) {
	defer s.wg.Done()
	defer s.Close()

	for {
		ev, err := ai.ReadEvent()
		if err != nil {
			s.log.Info("realtime leg ended", "stream_sid", s.currentStreamSID(), "reason", err)
			return
		}

		switch ev := ev.(type) {
		case realtime.AudioDeltaEvent:
			s.handleAudioDelta(ai, ev)

		case realtime.SpeechStartedEvent:
			s.handleSpeechStarted(ai)

		case realtime.ErrorEvent:
			s.log.Error("realtime backend error", "code", ev.Code, "message", ev.Message)

		case realtime.GenericEvent:
			s.log.Debug("realtime event", "type", ev.Type)
		}
	}
}

// handleAudioDelta forwards synthesized audio to the caller, pins the
// response start on the first delta, and queues a delivery mark behind
// the chunk.
func (s *Session) handleAudioDelta(ai AILeg, ev realtime.AudioDeltaEvent) {
	s.mu.Lock()
	streamSID := s.streamSID
	s.mu.Unlock()
	if streamSID == "" {
		return
	}

	if err := s.telephony.SendMedia(streamSID, ev.Delta); err != nil {
		s.log.Debug("media forward failed", "stream_sid", streamSID, "error", err)
		return
	}

	markName := uuid.NewString()

	s.mu.Lock()
	if !s.clock.ResponseStarted() {
		s.clock.MarkResponseStart()
		s.log.Debug("response playback started",
			"stream_sid", streamSID,
			"response_start_ms", s.clock.LatestMediaTimestamp(),
		)
	}
	if ev.ItemID != "" {
		s.lastAssistantItem = ev.ItemID
	}
	s.marks.RecordSent(markName)
	s.mu.Unlock()

	if err := s.telephony.SendMark(streamSID, markName); err != nil {
		s.log.Debug("mark send failed", "stream_sid", streamSID, "error", err)
	}
}

// handleSpeechStarted implements barge-in. The guard, offset computation
// and state clear happen atomically under the session lock; the truncate
// and clear sends follow outside it. Deltas are serialized with this
// handler on the realtime read loop, so nothing can resurrect the
// cleared state before the sends complete.
func (s *Session) handleSpeechStarted(ai AILeg) {
	s.mu.Lock()
	if s.lastAssistantItem == "" || !s.marks.HasOutstanding() {
		s.mu.Unlock()
		return
	}
	elapsed, ok := s.clock.ElapsedSinceResponseStart()
	if !ok {
		s.mu.Unlock()
		return
	}
	itemID := s.lastAssistantItem
	streamSID := s.streamSID
	s.marks.Clear()
	s.lastAssistantItem = ""
	s.clock.ClearResponse()
	s.mu.Unlock()

	s.log.Info("caller barge-in, truncating response",
		"stream_sid", streamSID,
		"item_id", itemID,
		"audio_end_ms", elapsed,
	)

	if err := ai.TruncateItem(itemID, 0, elapsed); err != nil {
		s.log.Debug("truncate send failed", "item_id", itemID, "error", err)
	}
	if err := s.telephony.SendClear(streamSID); err != nil {
		s.log.Debug("clear send failed", "stream_sid", streamSID, "error", err)
	}
}

func (s *Session) currentStreamSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSID
}
