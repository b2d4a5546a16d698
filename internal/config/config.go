// Package config loads process configuration from the environment once at
// startup: a .env file (if present) followed by os.Getenv reads, validated
// and frozen before any other component is constructed.
package config

import (
	"os"
	"strconv"
	"sync"

	"github.com/joho/godotenv"

	"github.com/agentplexus/callorchestrator/internal/callerror"
)

// Provider selects which carrier variant the process drives.
type Provider string

const (
	ProviderTelnyx Provider = "telnyx"
	ProviderTwilio Provider = "twilio"
)

// Config is the fully-resolved process configuration. Built once by Load
// and never mutated afterward, except for PublicURL which may be set
// exactly once, later, via SetPublicURL.
type Config struct {
	CallProvider        Provider
	CarrierAccountID    string
	CarrierSecret       string
	CarrierCallerID     string
	UserNumber          string
	SpeechAPIKey        string
	TunnelAuthToken     string
	Port                string
	TTSVoice            string
	STTSilenceMS        int
	TranscriptTimeoutMS int
	StrictSignatures    bool
	LogLevel            string

	publicURLOnce sync.Once
	publicURL     string
}

var validVoices = map[string]bool{
	"alloy": true, "echo": true, "fable": true,
	"onyx": true, "nova": true, "shimmer": true,
}

// Load reads and validates configuration from .env (if present) and the
// process environment. Returns *callerror.MissingConfiguration for the
// first required field that is absent.
func Load() (*Config, error) {
	_ = godotenv.Load()

	provider := Provider(getEnv("CALL_PROVIDER", string(ProviderTelnyx)))
	if provider != ProviderTelnyx && provider != ProviderTwilio {
		return nil, &callerror.MissingConfiguration{Key: "CALL_PROVIDER (must be telnyx or twilio)"}
	}

	cfg := &Config{
		CallProvider:     provider,
		CarrierAccountID: getEnv("CARRIER_ACCOUNT_ID", ""),
		CarrierSecret:    getEnv("CARRIER_SECRET", ""),
		CarrierCallerID:  getEnv("CARRIER_CALLER_ID", ""),
		UserNumber:       getEnv("USER_NUMBER", ""),
		SpeechAPIKey:     getEnv("SPEECH_API_KEY", ""),
		TunnelAuthToken:  getEnv("TUNNEL_AUTH_TOKEN", ""),
		Port:             getEnv("PORT", "3333"),
		TTSVoice:         getEnv("TTS_VOICE", "onyx"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}

	for _, required := range []struct{ key, val string }{
		{"CARRIER_ACCOUNT_ID", cfg.CarrierAccountID},
		{"CARRIER_SECRET", cfg.CarrierSecret},
		{"USER_NUMBER", cfg.UserNumber},
		{"SPEECH_API_KEY", cfg.SpeechAPIKey},
	} {
		if required.val == "" {
			return nil, &callerror.MissingConfiguration{Key: required.key}
		}
	}

	if !validVoices[cfg.TTSVoice] {
		return nil, &callerror.MissingConfiguration{Key: "TTS_VOICE (unknown voice)"}
	}

	sttSilenceMS, err := strconv.Atoi(getEnv("STT_SILENCE_MS", "800"))
	if err != nil {
		return nil, &callerror.MissingConfiguration{Key: "STT_SILENCE_MS (not an integer)"}
	}
	cfg.STTSilenceMS = sttSilenceMS

	transcriptTimeoutMS, err := strconv.Atoi(getEnv("TRANSCRIPT_TIMEOUT_MS", "180000"))
	if err != nil {
		return nil, &callerror.MissingConfiguration{Key: "TRANSCRIPT_TIMEOUT_MS (not an integer)"}
	}
	cfg.TranscriptTimeoutMS = transcriptTimeoutMS

	strictSignatures, err := strconv.ParseBool(getEnv("STRICT_SIGNATURES", "false"))
	if err != nil {
		return nil, &callerror.MissingConfiguration{Key: "STRICT_SIGNATURES (not a bool)"}
	}
	cfg.StrictSignatures = strictSignatures

	cfg.publicURL = getEnv("PUBLIC_URL", "")

	return cfg, nil
}

// PublicURL returns the configured public base URL, possibly set late via
// SetPublicURL.
func (c *Config) PublicURL() string {
	return c.publicURL
}

// SetPublicURL sets the public base URL exactly once; subsequent calls are
// no-ops. Used when the URL is only known after a tunnel is provisioned at
// startup.
func (c *Config) SetPublicURL(url string) {
	c.publicURLOnce.Do(func() {
		c.publicURL = url
	})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
