package core

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds the deploy-time knobs of the interaction session core.
// Both timing constants were fixed values in the original dashboard; they are
// preserved as defaults here and overridable per deployment.
type Config struct {
	// ChatBaseURL is the streaming chat backend (the /chat-messages endpoint
	// lives under it).
	ChatBaseURL string
	// ChatAPIKey authenticates against the chat backend.
	ChatAPIKey string

	// VoiceTokenBaseURL is the token issuance service for voice sessions.
	VoiceTokenBaseURL string
	// VoiceAPIKey authenticates token issuance requests.
	VoiceAPIKey string

	// UserID identifies the end user on chat exchanges.
	UserID string

	// WorkingLanguage is the language the chat backend operates in. Input in
	// any other language is translated before dispatch and answers are
	// translated back.
	WorkingLanguage string

	// TranslateDebounce is the quiet period before an accumulating answer is
	// re-translated.
	TranslateDebounce time.Duration

	// PresenceGracePeriod is the wait window after the remote participant
	// disappears before the voice session is torn down.
	PresenceGracePeriod time.Duration

	// GeminiAPIKey enables the Gemini-backed translator when set.
	GeminiAPIKey string

	// HistoryDatabaseURL enables the Postgres exchange archive when set.
	HistoryDatabaseURL string

	// BridgeAddr enables the WebSocket UI bridge listener when set.
	BridgeAddr string
}

// DefaultConfig returns a Config with the observed production defaults.
func DefaultConfig() Config {
	return Config{
		WorkingLanguage:     "en",
		TranslateDebounce:   300 * time.Millisecond,
		PresenceGracePeriod: 5 * time.Second,
	}
}

// LoadFromEnv builds a Config from SESSIONKIT_* environment variables.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		ChatBaseURL:         envOr("SESSIONKIT_CHAT_BASE_URL", ""),
		ChatAPIKey:          envOr("SESSIONKIT_CHAT_API_KEY", ""),
		VoiceTokenBaseURL:   envOr("SESSIONKIT_VOICE_TOKEN_BASE_URL", ""),
		VoiceAPIKey:         envOr("SESSIONKIT_VOICE_API_KEY", ""),
		UserID:              envOr("SESSIONKIT_USER_ID", "sessionkit-user"),
		WorkingLanguage:     envOr("SESSIONKIT_WORKING_LANGUAGE", "en"),
		TranslateDebounce:   envDurationOr("SESSIONKIT_TRANSLATE_DEBOUNCE", 300*time.Millisecond),
		PresenceGracePeriod: envDurationOr("SESSIONKIT_PRESENCE_GRACE_PERIOD", 5*time.Second),
		GeminiAPIKey:        envOr("SESSIONKIT_GEMINI_API_KEY", os.Getenv("GEMINI_API_KEY")),
		HistoryDatabaseURL:  envOr("SESSIONKIT_HISTORY_DATABASE_URL", ""),
		BridgeAddr:          envOr("SESSIONKIT_BRIDGE_ADDR", ""),
	}

	if cfg.WorkingLanguage == "" {
		return Config{}, fmt.Errorf("SESSIONKIT_WORKING_LANGUAGE must not be empty")
	}
	if cfg.TranslateDebounce <= 0 {
		return Config{}, fmt.Errorf("SESSIONKIT_TRANSLATE_DEBOUNCE must be > 0")
	}
	if cfg.PresenceGracePeriod <= 0 {
		return Config{}, fmt.Errorf("SESSIONKIT_PRESENCE_GRACE_PERIOD must be > 0")
	}
	if cfg.ChatBaseURL != "" && cfg.ChatAPIKey == "" {
		return Config{}, fmt.Errorf("SESSIONKIT_CHAT_API_KEY must be set when SESSIONKIT_CHAT_BASE_URL is set")
	}
	if cfg.VoiceTokenBaseURL != "" && cfg.VoiceAPIKey == "" {
		return Config{}, fmt.Errorf("SESSIONKIT_VOICE_API_KEY must be set when SESSIONKIT_VOICE_TOKEN_BASE_URL is set")
	}
	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
