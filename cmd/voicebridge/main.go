package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentplexus/voicebridge/bridge"
	"github.com/agentplexus/voicebridge/callsystem"
	"github.com/agentplexus/voicebridge/internal/client"
	"github.com/agentplexus/voicebridge/internal/config"
	"github.com/agentplexus/voicebridge/internal/httpapi"
	"github.com/agentplexus/voicebridge/realtime"
	"github.com/agentplexus/voicebridge/tts"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("voicebridge starting",
		"port", cfg.Port,
		"model", cfg.RealtimeModel,
		"voice", cfg.Voice,
	)

	twilioClient, err := client.New(&client.Config{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
	})
	if err != nil {
		slog.Error("twilio client init failed", "error", err)
		os.Exit(1)
	}

	calls := callsystem.NewManager(twilioClient, callsystem.Config{
		From:              cfg.TwilioPhoneNumber,
		AnswerURL:         "https://" + cfg.PublicHost + "/outbound-call-handler",
		StatusCallbackURL: "https://" + cfg.PublicHost + "/call-status",
		Record:            cfg.RecordCalls,
	})

	registry := bridge.NewRegistry()
	calls.OnCallEnded(func(callSID string) {
		if leg, ok := registry.Remove(callSID); ok {
			slog.Info("releasing realtime leg for ended call", "call_sid", callSID)
			_ = leg.Close()
		}
	})

	dialAI := func(ctx context.Context) (bridge.AILeg, error) {
		c, err := realtime.Dial(ctx, realtime.Config{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.RealtimeModel,
		})
		if err != nil {
			return nil, err
		}
		if err := c.InitializeSession(realtime.SessionConfig{
			Voice:        cfg.Voice,
			Instructions: cfg.SystemInstructions,
			Temperature:  cfg.Temperature,
		}); err != nil {
			_ = c.Close()
			return nil, err
		}
		return c, nil
	}

	var speech *tts.Provider
	if cfg.ElevenLabsAPIKey != "" {
		opts := []tts.Option{tts.WithAPIKey(cfg.ElevenLabsAPIKey)}
		if cfg.ElevenLabsVoiceID != "" {
			opts = append(opts, tts.WithVoice(cfg.ElevenLabsVoiceID))
		}
		speech, err = tts.New(opts...)
		if err != nil {
			slog.Error("tts provider init failed", "error", err)
			os.Exit(1)
		}
	}

	api := httpapi.NewServer(httpapi.Config{
		PublicHost:       cfg.PublicHost,
		Greeting:         "Please wait while we connect your call.",
		OutboundGreeting: "Please wait while we connect you to our AI assistant.",
		TTSDemoMessage:   cfg.TTSDemoMessage,
	}, calls, registry, dialAI, speech, slog.Default())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: api.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
