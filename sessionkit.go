// Package sessionkit is the client core for real-time interaction sessions:
// streaming chat with on-the-fly translation, and LiveKit-backed voice
// sessions with presence-based lifecycle.
//
// The root Client is a facade: it turns one Config into ready-to-use chat
// and voice sessions wired with the configured translator, archive and
// transport.
package sessionkit

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/agentdeck/sessionkit/pkg/chat"
	"github.com/agentdeck/sessionkit/pkg/core"
	"github.com/agentdeck/sessionkit/pkg/history"
	"github.com/agentdeck/sessionkit/pkg/translate"
	"github.com/agentdeck/sessionkit/pkg/voice"
	"github.com/agentdeck/sessionkit/pkg/voice/livekit"
)

// Client builds interaction sessions from a single configuration.
type Client struct {
	cfg    core.Config
	logger *slog.Logger

	httpClient *http.Client
	tracer     trace.Tracer
	translator translate.Translator
	archiver   chat.Archiver
	transport  voice.Transport
	newSink    voice.SinkFactory

	store *history.Store
}

// New creates a Client. ctx covers construction-time work only: building the
// Gemini translator and opening the history database when the config asks
// for them.
func New(ctx context.Context, cfg core.Config, opts ...Option) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.translator == nil && cfg.GeminiAPIKey != "" {
		tr, err := translate.NewGeminiTranslator(ctx, cfg.GeminiAPIKey, "")
		if err != nil {
			return nil, err
		}
		c.translator = tr
	}

	if c.archiver == nil && cfg.HistoryDatabaseURL != "" {
		store, err := history.Open(ctx, cfg.HistoryDatabaseURL, c.logger)
		if err != nil {
			return nil, err
		}
		c.store = store
		c.archiver = store
	}

	if c.transport == nil {
		c.transport = livekit.NewTransport(livekit.WithLogger(c.logger))
	}
	if c.newSink == nil {
		c.newSink = livekit.NewDrainSinkFactory(c.logger)
	}
	return c, nil
}

// ChatSession builds a streaming chat session reporting through the given
// callbacks.
func (c *Client) ChatSession(callbacks chat.Callbacks) (*chat.Session, error) {
	if c.cfg.ChatBaseURL == "" {
		return nil, core.NewInvalidRequestError("chat base URL is not configured")
	}

	clientOpts := []chat.ClientOption{chat.WithLogger(c.logger)}
	if c.httpClient != nil {
		clientOpts = append(clientOpts, chat.WithHTTPClient(c.httpClient))
	}
	chatClient := chat.NewClient(c.cfg.ChatBaseURL, c.cfg.ChatAPIKey, clientOpts...)

	return chat.NewSession(chatClient, chat.SessionConfig{
		User:              c.cfg.UserID,
		WorkingLanguage:   c.cfg.WorkingLanguage,
		TranslateDebounce: c.cfg.TranslateDebounce,
		Translator:        c.translator,
		Archiver:          c.archiver,
		Callbacks:         callbacks,
		Logger:            c.logger,
		Tracer:            c.tracer,
	}), nil
}

// VoiceSession builds a voice session for the named agent.
func (c *Client) VoiceSession(agentName string, callbacks voice.Callbacks) (*voice.Session, error) {
	if c.cfg.VoiceTokenBaseURL == "" {
		return nil, core.NewInvalidRequestError("voice token base URL is not configured")
	}
	if agentName == "" {
		return nil, core.NewInvalidRequestError("agentName must not be empty")
	}

	tokenOpts := []voice.TokenClientOption{voice.WithLogger(c.logger)}
	if c.httpClient != nil {
		tokenOpts = append(tokenOpts, voice.WithHTTPClient(c.httpClient))
	}

	return voice.NewSession(voice.SessionConfig{
		AgentName:   agentName,
		Tokens:      voice.NewTokenClient(c.cfg.VoiceTokenBaseURL, c.cfg.VoiceAPIKey, tokenOpts...),
		Transport:   c.transport,
		NewSink:     c.newSink,
		GracePeriod: c.cfg.PresenceGracePeriod,
		Callbacks:   callbacks,
		Logger:      c.logger,
	}), nil
}

// Close releases resources the client opened during construction.
func (c *Client) Close() {
	if c.store != nil {
		c.store.Close()
	}
}
