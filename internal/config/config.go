package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envSupabaseURL    = "EYECONNECT_SUPABASE_URL"
	envRelayURL       = "EYECONNECT_RELAY_URL"
	envRestURL        = "EYECONNECT_REST_URL"
	envAPIKey         = "EYECONNECT_API_KEY"
	envStunURLs       = "EYECONNECT_STUN_URLS"
	envTurnURLs       = "EYECONNECT_TURN_URLS"
	envTurnUsername   = "EYECONNECT_TURN_USERNAME"
	envTurnCredential = "EYECONNECT_TURN_CREDENTIAL"
	envConnectTimeout = "EYECONNECT_CONNECT_TIMEOUT"
	envPollInterval   = "EYECONNECT_POLL_INTERVAL"
	envAudioFile      = "EYECONNECT_AUDIO_FILE"
	envVideoFile      = "EYECONNECT_VIDEO_FILE"
	envRecordDir      = "EYECONNECT_RECORD_DIR"
	envLogLevel       = "EYECONNECT_LOG_LEVEL"
)

var defaultStunURLs = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}

// Config holds the application configuration.
type Config struct {
	RelayURL string
	RestURL  string
	APIKey   string

	StunURLs       []string
	TurnURLs       []string
	TurnUsername   string
	TurnCredential string

	ConnectTimeout time.Duration
	PollInterval   time.Duration

	AudioFile string
	VideoFile string
	NoAudio   bool
	NoVideo   bool
	RecordDir string

	LogLevel string
}

// Load reads configuration from a .env file (if present) and environment
// variables. Environment variables take precedence over .env values; command
// line flags are applied on top by the caller.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()
	return fromEnv(os.Getenv)
}

func fromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		RelayURL:       strings.TrimSpace(getenv(envRelayURL)),
		RestURL:        strings.TrimSpace(getenv(envRestURL)),
		APIKey:         strings.TrimSpace(getenv(envAPIKey)),
		StunURLs:       splitCommaSeparated(getenv(envStunURLs)),
		TurnURLs:       splitCommaSeparated(getenv(envTurnURLs)),
		TurnUsername:   strings.TrimSpace(getenv(envTurnUsername)),
		TurnCredential: strings.TrimSpace(getenv(envTurnCredential)),
		ConnectTimeout: 30 * time.Second,
		PollInterval:   2 * time.Second,
		AudioFile:      strings.TrimSpace(getenv(envAudioFile)),
		VideoFile:      strings.TrimSpace(getenv(envVideoFile)),
		RecordDir:      strings.TrimSpace(getenv(envRecordDir)),
		LogLevel:       strings.TrimSpace(getenv(envLogLevel)),
	}

	if base := strings.TrimRight(strings.TrimSpace(getenv(envSupabaseURL)), "/"); base != "" {
		relay, rest, err := deriveSupabaseURLs(base)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envSupabaseURL, err)
		}
		if cfg.RelayURL == "" {
			cfg.RelayURL = relay
		}
		if cfg.RestURL == "" {
			cfg.RestURL = rest
		}
	}

	if len(cfg.StunURLs) == 0 {
		cfg.StunURLs = append([]string(nil), defaultStunURLs...)
	}

	if raw := strings.TrimSpace(getenv(envConnectTimeout)); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envConnectTimeout, err)
		}
		cfg.ConnectTimeout = d
	}
	if raw := strings.TrimSpace(getenv(envPollInterval)); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envPollInterval, err)
		}
		cfg.PollInterval = d
	}

	return cfg, nil
}

// deriveSupabaseURLs maps a project URL to its realtime websocket and REST
// endpoints.
func deriveSupabaseURLs(base string) (relay, rest string, err error) {
	switch {
	case strings.HasPrefix(base, "https://"):
		relay = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		relay = "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "", "", fmt.Errorf("unsupported url %q", base)
	}
	return relay + "/realtime/v1/websocket", base + "/rest/v1", nil
}

// ValidateRelay checks what every networked command needs.
func (c *Config) ValidateRelay() error {
	if c.RelayURL == "" {
		return fmt.Errorf("%s or %s is required", envRelayURL, envSupabaseURL)
	}
	if c.APIKey == "" {
		return fmt.Errorf("%s is required", envAPIKey)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	return nil
}

// HasStore reports whether a call matching store is configured.
func (c *Config) HasStore() bool {
	return c.RestURL != "" && c.APIKey != ""
}

func splitCommaSeparated(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
