package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port               int
	PublicHost         string
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioPhoneNumber  string
	OpenAIAPIKey       string
	RealtimeModel      string
	Voice              string
	SystemInstructions string
	Temperature        float64
	RecordCalls        bool
	ElevenLabsAPIKey   string
	ElevenLabsVoiceID  string
	TTSDemoMessage     string
	LogLevel           string
}

func Load() Config {
	return Config{
		Port:               envInt("PORT", 5050),
		PublicHost:         envStr("PUBLIC_HOST", ""),
		TwilioAccountSID:   envStr("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:    envStr("TWILIO_AUTH_TOKEN", ""),
		TwilioPhoneNumber:  envStr("TWILIO_PHONE_NUMBER", ""),
		OpenAIAPIKey:       envStr("OPENAI_API_KEY", ""),
		RealtimeModel:      envStr("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview-2024-10-01"),
		Voice:              envStr("VOICE", "sage"),
		SystemInstructions: envStr("SYSTEM_INSTRUCTIONS", "You are a friendly AI assistant."),
		Temperature:        envFloat("TEMPERATURE", 0.8),
		RecordCalls:        envBool("RECORD_CALLS", true),
		ElevenLabsAPIKey:   envStr("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID:  envStr("ELEVENLABS_VOICE_ID", ""),
		TTSDemoMessage:     envStr("TTS_DEMO_MESSAGE", "This is a test message. You can now hang up. Thank you."),
		LogLevel:           envStr("LOG_LEVEL", "info"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
