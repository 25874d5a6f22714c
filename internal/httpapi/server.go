// Package httpapi exposes the HTTP surface: call webhooks returning
// TwiML, the outbound-call REST endpoint, and the websocket handlers
// that hand connections to the bridge.
package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/agentplexus/voicebridge/bridge"
	"github.com/agentplexus/voicebridge/callsystem"
	"github.com/agentplexus/voicebridge/transport"
	"github.com/agentplexus/voicebridge/tts"
	"github.com/agentplexus/voicebridge/twiml"
)

// Config configures the server.
type Config struct {
	// PublicHost overrides the request Host when building websocket and
	// webhook URLs (needed behind tunnels and proxies).
	PublicHost string
	// Greeting is spoken before the media stream connects.
	Greeting string
	// OutboundGreeting is spoken to answered outbound calls.
	OutboundGreeting string
	// TTSDemoMessage is spoken by the non-streaming demo path.
	TTSDemoMessage string
}

// Server routes the HTTP surface.
type Server struct {
	cfg      Config
	calls    *callsystem.Manager
	registry *bridge.Registry
	dialAI   bridge.AIDialer
	speech   *tts.Provider // nil disables the demo path
	log      *slog.Logger
	router   chi.Router
}

// NewServer wires the routes. speech may be nil.
func NewServer(cfg Config, calls *callsystem.Manager, registry *bridge.Registry, dialAI bridge.AIDialer, speech *tts.Provider, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		calls:    calls,
		registry: registry,
		dialAI:   dialAI,
		speech:   speech,
		log:      log,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/", s.handleIndex)
	r.Get("/incoming-call", s.handleIncomingCall)
	r.Post("/incoming-call", s.handleIncomingCall)
	r.Post("/outbound-call-handler", s.handleOutboundAnswer)
	r.Post("/make-call", s.handleMakeCall)
	r.Post("/call-status", s.handleCallStatus)
	r.Get("/media-stream", s.handleMediaStream)
	r.Get("/tts-stream", s.handleTTSStream)

	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Twilio Media Stream Server is running!",
	})
}

// handleIncomingCall answers an inbound call with TwiML that connects it
// to the media stream.
func (s *Server) handleIncomingCall(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err == nil {
			if callSID := r.PostFormValue("CallSid"); callSID != "" {
				s.calls.HandleIncoming(callSID, r.PostFormValue("From"), r.PostFormValue("To"))
			}
		}
	}

	s.writeStreamTwiML(w, r, s.cfg.Greeting)
}

// handleOutboundAnswer returns the same media-stream TwiML for answered
// outbound calls.
func (s *Server) handleOutboundAnswer(w http.ResponseWriter, r *http.Request) {
	s.writeStreamTwiML(w, r, s.cfg.OutboundGreeting)
}

func (s *Server) writeStreamTwiML(w http.ResponseWriter, r *http.Request, greeting string) {
	doc, err := twiml.MediaStreamResponse(greeting, "wss://"+s.host(r)+"/media-stream")
	if err != nil {
		s.log.Error("twiml render failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write([]byte(doc))
}

type makeCallRequest struct {
	PhoneNumber string `json:"phone_number"`
}

// handleMakeCall pre-dials the realtime leg, registers it for the call,
// then places the outbound call. The media-stream handler adopts the leg
// when Twilio connects.
func (s *Server) handleMakeCall(w http.ResponseWriter, r *http.Request) {
	var req makeCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PhoneNumber == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "phone_number is required"})
		return
	}

	leg, err := s.dialAI(r.Context())
	if err != nil {
		s.log.Error("realtime pre-dial failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to reach realtime backend"})
		return
	}

	call, err := s.calls.StartOutbound(r.Context(), req.PhoneNumber)
	if err != nil {
		_ = leg.Close()
		s.log.Error("outbound dial failed", "to", req.PhoneNumber, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to initiate call"})
		return
	}

	s.registry.Register(call.SID, leg)

	writeJSON(w, http.StatusOK, map[string]string{
		"message":  "Call initiated",
		"call_sid": call.SID,
	})
}

// handleCallStatus applies Twilio status callbacks; terminal statuses
// release the call's registered realtime leg via the manager's hook.
func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad form"})
		return
	}

	callSID := r.PostFormValue("CallSid")
	status := r.PostFormValue("CallStatus")
	if callSID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "CallSid is required"})
		return
	}

	s.calls.HandleStatusCallback(callSID, status)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// handleMediaStream upgrades the Twilio websocket and runs a bridge
// session for the lifetime of the call.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.Upgrade(w, r, s.log)
	if err != nil {
		s.log.Error("media stream upgrade failed", "error", err)
		return
	}

	sess := bridge.NewSession(conn, s.dialAI, s.registry, s.log)
	if err := sess.Run(r.Context()); err != nil {
		s.log.Error("bridge session ended with error", "error", err)
	}
}

// handleTTSStream is the non-streaming demo path: speak one synthesized
// message when the stream starts, then drain until the caller hangs up.
func (s *Server) handleTTSStream(w http.ResponseWriter, r *http.Request) {
	if s.speech == nil {
		http.Error(w, "tts demo not configured", http.StatusNotImplemented)
		return
	}

	conn, err := transport.Upgrade(w, r, s.log)
	if err != nil {
		s.log.Error("tts stream upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	for {
		ev, err := conn.ReadEvent()
		if err != nil {
			return
		}

		switch ev := ev.(type) {
		case transport.StartEvent:
			audio, err := s.speech.Synthesize(r.Context(), s.cfg.TTSDemoMessage)
			if err != nil {
				s.log.Error("tts synthesis failed", "stream_sid", ev.StreamSID, "error", err)
				continue
			}
			payload := base64.StdEncoding.EncodeToString(audio)
			if err := conn.SendMedia(ev.StreamSID, payload); err != nil {
				s.log.Debug("tts media send failed", "stream_sid", ev.StreamSID, "error", err)
				return
			}

		case transport.StopEvent:
			return
		}
	}
}

func (s *Server) host(r *http.Request) string {
	if s.cfg.PublicHost != "" {
		return s.cfg.PublicHost
	}
	return r.Host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, http.ErrBodyNotAllowed) {
		slog.Debug("response encode failed", "error", err)
	}
}
