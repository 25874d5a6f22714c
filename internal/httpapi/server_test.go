package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentplexus/voicebridge/bridge"
	"github.com/agentplexus/voicebridge/callsystem"
	"github.com/agentplexus/voicebridge/internal/client"
	"github.com/agentplexus/voicebridge/realtime"
)

var errClosed = errors.New("closed")

// stubAI is a minimal bridge.AILeg whose read blocks until closed.
type stubAI struct {
	events chan realtime.Event

	mu       sync.Mutex
	appended []string

	closed    chan struct{}
	closeOnce sync.Once
}

func newStubAI() *stubAI {
	return &stubAI{
		events: make(chan realtime.Event, 16),
		closed: make(chan struct{}),
	}
}

func (s *stubAI) ReadEvent() (realtime.Event, error) {
	select {
	case <-s.closed:
		return nil, errClosed
	case ev := <-s.events:
		return ev, nil
	}
}

func (s *stubAI) AppendAudio(payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended = append(s.appended, payload)
	return nil
}

func (s *stubAI) TruncateItem(string, int, int64) error { return nil }

func (s *stubAI) IsOpen() bool {
	select {
	case <-s.closed:
		return false
	default:
		return true
	}
}

func (s *stubAI) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *stubAI) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	server   *Server
	registry *bridge.Registry
	calls    *callsystem.Manager
	ai       *stubAI
	dialErr  error
	dials    int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	twilioSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sid":"CA-out","status":"queued"}`))
	}))
	t.Cleanup(twilioSrv.Close)

	cl, err := client.New(&client.Config{
		AccountSID: "AC-test",
		AuthToken:  "token-test",
		BaseURL:    twilioSrv.URL,
	})
	if err != nil {
		t.Fatalf("client init failed: %v", err)
	}

	env := &testEnv{
		registry: bridge.NewRegistry(),
		ai:       newStubAI(),
	}

	env.calls = callsystem.NewManager(cl, callsystem.Config{
		From:   "+15550002222",
		Logger: quietLogger(),
	})
	env.calls.OnCallEnded(func(callSID string) {
		if leg, ok := env.registry.Remove(callSID); ok {
			_ = leg.Close()
		}
	})

	dial := func(context.Context) (bridge.AILeg, error) {
		env.dials++
		if env.dialErr != nil {
			return nil, env.dialErr
		}
		return env.ai, nil
	}

	env.server = NewServer(Config{
		Greeting:       "Please wait while we connect your call.",
		TTSDemoMessage: "demo",
	}, env.calls, env.registry, dial, nil, quietLogger())

	return env
}

func TestHandleIncomingCall(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "http://bridge.example.com/incoming-call", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/xml" {
		t.Errorf("unexpected content type %q", ct)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "wss://bridge.example.com/media-stream") {
		t.Errorf("missing stream URL in TwiML:\n%s", body)
	}
	if !strings.Contains(body, "Please wait while we connect your call.") {
		t.Errorf("missing greeting in TwiML:\n%s", body)
	}
}

func TestHandleIncomingCall_PostTracksCall(t *testing.T) {
	env := newTestEnv(t)

	form := "CallSid=CA-in&From=%2B15550003333&To=%2B15550002222"
	req := httptest.NewRequest(http.MethodPost, "/incoming-call", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if _, ok := env.calls.GetCall("CA-in"); !ok {
		t.Error("expected inbound call tracked")
	}
}

func TestHandleMakeCall(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/make-call", strings.NewReader(`{"phone_number":"+15550001111"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if resp["call_sid"] != "CA-out" {
		t.Errorf("unexpected call_sid %q", resp["call_sid"])
	}
	if env.registry.Len() != 1 {
		t.Errorf("expected realtime leg registered, registry has %d", env.registry.Len())
	}
	if env.dials != 1 {
		t.Errorf("expected 1 dial, got %d", env.dials)
	}
}

func TestHandleMakeCall_DialFailure(t *testing.T) {
	env := newTestEnv(t)
	env.dialErr = errors.New("backend down")

	req := httptest.NewRequest(http.MethodPost, "/make-call", strings.NewReader(`{"phone_number":"+15550001111"}`))
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}
	if env.registry.Len() != 0 {
		t.Errorf("expected empty registry, got %d", env.registry.Len())
	}
}

func TestHandleMakeCall_MissingNumber(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/make-call", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if env.dials != 0 {
		t.Errorf("expected no dial, got %d", env.dials)
	}
}

func TestHandleCallStatus_TerminalReleasesRealtimeLeg(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register("CA-out", env.ai)

	form := "CallSid=CA-out&CallStatus=completed"
	req := httptest.NewRequest(http.MethodPost, "/call-status", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if env.registry.Len() != 0 {
		t.Errorf("expected registry drained, got %d", env.registry.Len())
	}
	if !env.ai.isClosed() {
		t.Error("expected realtime leg closed on terminal status")
	}
}

func TestHandleTTSStream_NotConfigured(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/tts-stream", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Errorf("expected 501, got %d", rec.Code)
	}
}

// Full round-trip through the websocket handler: Twilio-side client
// connects, starts a stream, sends caller audio and receives the model's
// response chunk with its delivery mark.
func TestHandleMediaStream_Bridges(t *testing.T) {
	env := newTestEnv(t)

	srv := httptest.NewServer(env.server.Handler())
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/media-stream"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })

	send := func(msg string) {
		t.Helper()
		if err := ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	send(`{"event":"start","start":{"streamSid":"SD1","callSid":"CA1"}}`)
	send(`{"event":"media","media":{"timestamp":"100","payload":"Zm9v"}}`)

	deadline := time.Now().Add(2 * time.Second)
	for {
		env.ai.mu.Lock()
		n := len(env.ai.appended)
		env.ai.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("caller audio never reached the realtime leg")
		}
		time.Sleep(2 * time.Millisecond)
	}

	env.ai.events <- realtime.AudioDeltaEvent{ItemID: "item1", Delta: "YmFy"}

	readMsg := func() map[string]any {
		t.Helper()
		_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		return msg
	}

	media := readMsg()
	if media["event"] != "media" || media["streamSid"] != "SD1" {
		t.Fatalf("unexpected first message %v", media)
	}
	if payload := media["media"].(map[string]any)["payload"]; payload != "YmFy" {
		t.Errorf("unexpected payload %v", payload)
	}

	mark := readMsg()
	if mark["event"] != "mark" {
		t.Fatalf("expected mark after media, got %v", mark)
	}

	send(`{"event":"stop"}`)

	deadline = time.Now().Add(2 * time.Second)
	for !env.ai.isClosed() {
		if time.Now().After(deadline) {
			t.Fatal("realtime leg not closed after stop")
		}
		time.Sleep(2 * time.Millisecond)
	}
}
