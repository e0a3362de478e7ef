package sessionkit

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/agentdeck/sessionkit/pkg/chat"
	"github.com/agentdeck/sessionkit/pkg/translate"
	"github.com/agentdeck/sessionkit/pkg/voice"
)

// Option is a function that configures a Client.
type Option func(*Client)

// WithLogger sets the logger for the client and everything it builds.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHTTPClient sets a custom HTTP client for the chat and token transports.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTracer sets the OpenTelemetry tracer. Each chat exchange runs inside a
// span when set.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		c.tracer = t
	}
}

// WithTranslator overrides the translator. Without this option a Gemini
// translator is built when the config carries a Gemini API key.
func WithTranslator(t translate.Translator) Option {
	return func(c *Client) {
		c.translator = t
	}
}

// WithArchiver sets the exchange archive. Without this option a Postgres
// store is opened when the config carries a history database URL.
func WithArchiver(a chat.Archiver) Option {
	return func(c *Client) {
		c.archiver = a
	}
}

// WithVoiceTransport overrides the room transport. Defaults to LiveKit.
func WithVoiceTransport(t voice.Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// WithSinkFactory overrides how playback sinks are created for subscribed
// remote tracks.
func WithSinkFactory(f voice.SinkFactory) Option {
	return func(c *Client) {
		c.newSink = f
	}
}
