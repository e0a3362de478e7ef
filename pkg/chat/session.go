package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentdeck/sessionkit/pkg/core"
	"github.com/agentdeck/sessionkit/pkg/translate"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the conversation. Content grows while an exchange
// streams and becomes immutable once the exchange finalizes.
type Message struct {
	ID               string
	Role             Role
	Content          string
	Timestamp        time.Time
	OriginalLanguage string
}

// State is the exchange state machine of a Session.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateCompleted
	StateAborted
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSending:
		return "SENDING"
	case StateStreaming:
		return "STREAMING"
	case StateCompleted:
		return "COMPLETED"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Callbacks deliver session progress to the UI layer.
type Callbacks struct {
	// OnMessageUpdate receives a snapshot of the full message list after
	// every visible change.
	OnMessageUpdate func(messages []Message)
	// OnError receives user-visible transport failures. Informational; the
	// failure is also rendered as the assistant message text.
	OnError func(err error)
}

// Archiver persists finalized exchanges. Best-effort: failures are logged and
// never surfaced to the exchange.
type Archiver interface {
	ArchiveExchange(ctx context.Context, conversationID string, user, assistant Message) error
}

// SessionConfig configures a Session.
type SessionConfig struct {
	// User identifies the end user on outgoing requests.
	User string
	// WorkingLanguage is the backend's internal language. Default "en".
	WorkingLanguage string
	// TranslateDebounce is the quiet period for answer re-translation.
	// Default 300ms.
	TranslateDebounce time.Duration
	// Translator enables the translation pipeline when set.
	Translator translate.Translator
	// Archiver persists finalized exchanges when set.
	Archiver Archiver

	Callbacks Callbacks
	Logger    *slog.Logger
	Tracer    trace.Tracer
}

// Session orchestrates streaming question/answer exchanges against the chat
// backend: at most one exchange in flight, additive answer accumulation,
// conversation continuity, cancellation and optional on-the-fly translation.
type Session struct {
	client *Client
	cfg    SessionConfig
	logger *slog.Logger

	mu             sync.Mutex
	state          State
	messages       []Message
	conversationID string
	cancel         context.CancelFunc
	inFlight       bool
}

// NewSession creates a Session over the given client.
func NewSession(client *Client, cfg SessionConfig) *Session {
	if cfg.WorkingLanguage == "" {
		cfg.WorkingLanguage = "en"
	}
	if cfg.TranslateDebounce <= 0 {
		cfg.TranslateDebounce = 300 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// Send runs one exchange to completion. It is a no-op when userText is blank
// or another send is already in flight. Transport failures are rendered as
// the assistant message text; cancellation retracts the in-progress message
// silently. Send blocks until the exchange reaches a terminal state.
func (s *Session) Send(ctx context.Context, userText string) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return
	}

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return
	}
	// Supersede any token left over from an exchange that is still unwinding.
	if s.cancel != nil {
		s.cancel()
	}
	exchCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.inFlight = true
	s.state = StateSending
	s.mu.Unlock()

	s.exchange(exchCtx, userText)

	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

// Reset cancels any in-flight exchange and clears the message list and the
// conversation handle. Safe to call at any time; idempotent.
func (s *Session) Reset() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.messages = nil
	s.conversationID = ""
	s.state = StateIdle
	cb := s.cfg.Callbacks.OnMessageUpdate
	s.mu.Unlock()

	if cb != nil {
		cb([]Message{})
	}
}

// State returns the current exchange state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a snapshot of the conversation.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// ConversationID returns the current conversation handle ("" before the
// backend assigns one).
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

func (s *Session) exchange(ctx context.Context, userText string) {
	if s.cfg.Tracer != nil {
		var span trace.Span
		ctx, span = s.cfg.Tracer.Start(ctx, "chat.exchange")
		defer span.End()
	}

	detected := translate.DetectLanguage(userText)

	userMsg := Message{
		ID:               uuid.NewString(),
		Role:             RoleUser,
		Content:          userText,
		Timestamp:        time.Now(),
		OriginalLanguage: detected,
	}
	s.appendMessage(userMsg)

	placeholderID := uuid.NewString()
	s.appendMessage(Message{ID: placeholderID, Role: RoleAssistant, Timestamp: time.Now()})

	gate := translate.NewGate(s.cfg.Translator, s.cfg.WorkingLanguage, s.cfg.TranslateDebounce, func(text string) {
		s.setContent(placeholderID, text)
	}, s.logger)
	gateActive := gate.Activate(ctx, detected)

	query := userText
	if gateActive {
		translated, err := s.cfg.Translator.TranslateToWorking(ctx, userText, s.cfg.WorkingLanguage)
		if err != nil {
			s.logger.Warn("query translation failed, sending original text", "error", err)
		} else {
			query = translated
		}
	}

	dec, err := s.client.Stream(ctx, &SendRequest{
		Query:          query,
		User:           s.cfg.User,
		ConversationID: s.ConversationID(),
	})
	if err != nil {
		gate.Cancel()
		if s.aborted(ctx, err) {
			s.abortExchange(placeholderID)
			return
		}
		s.failExchange(placeholderID, err)
		return
	}
	defer dec.Close()

	s.setState(StateStreaming)

	var accumulated strings.Builder
	for {
		chunk, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			gate.Cancel()
			if s.aborted(ctx, err) {
				s.abortExchange(placeholderID)
				return
			}
			s.failExchange(placeholderID, err)
			return
		}

		if chunk.ConversationID != "" {
			s.setConversationID(chunk.ConversationID)
		}
		if chunk.Answer == "" {
			continue
		}
		accumulated.WriteString(chunk.Answer)
		if gateActive {
			// Gate-only delivery: the working-language accumulator is never
			// shown while translation is pending.
			gate.Push(accumulated.String())
		} else {
			s.setContent(placeholderID, accumulated.String())
		}
	}

	if ctx.Err() != nil {
		gate.Cancel()
		s.abortExchange(placeholderID)
		return
	}

	if gateActive {
		gate.Flush()
	} else {
		s.setContent(placeholderID, accumulated.String())
	}

	s.setState(StateCompleted)
	s.archive(userMsg, placeholderID)
}

// aborted reports whether err (or the exchange context) signals cancellation.
func (s *Session) aborted(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

// abortExchange retracts the placeholder without raising a user-visible
// error.
func (s *Session) abortExchange(placeholderID string) {
	s.retract(placeholderID)

	s.mu.Lock()
	// Reset may already have returned the session to Idle; only an exchange
	// that is still running transitions to Aborted.
	if s.state == StateSending || s.state == StateStreaming {
		s.state = StateAborted
	}
	s.mu.Unlock()
}

// failExchange renders the failure as the assistant message text and reports
// it through the error callback. Transport failures are the only kinds that
// reach the user.
func (s *Session) failExchange(placeholderID string, err error) {
	var text string
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		text = coreErr.Message
	} else {
		text = "The request failed. Please try again."
		s.logger.Error("chat exchange failed", "error", err)
	}
	s.setContent(placeholderID, text)
	s.setState(StateCompleted)

	s.mu.Lock()
	cb := s.cfg.Callbacks.OnError
	s.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (s *Session) archive(userMsg Message, placeholderID string) {
	if s.cfg.Archiver == nil {
		return
	}

	s.mu.Lock()
	var assistant Message
	found := false
	for _, m := range s.messages {
		if m.ID == placeholderID {
			assistant = m
			found = true
			break
		}
	}
	conversationID := s.conversationID
	s.mu.Unlock()
	if !found {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cfg.Archiver.ArchiveExchange(ctx, conversationID, userMsg, assistant); err != nil {
		s.logger.Warn("exchange archive failed", "error", err)
	}
}

func (s *Session) appendMessage(m Message) {
	s.mu.Lock()
	s.messages = append(s.messages, m)
	snapshot := append([]Message(nil), s.messages...)
	cb := s.cfg.Callbacks.OnMessageUpdate
	s.mu.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// setContent updates a message in place. A message that was retracted (or
// cleared by Reset) is silently skipped.
func (s *Session) setContent(id, content string) {
	s.mu.Lock()
	updated := false
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Content = content
			updated = true
			break
		}
	}
	if !updated {
		s.mu.Unlock()
		return
	}
	snapshot := append([]Message(nil), s.messages...)
	cb := s.cfg.Callbacks.OnMessageUpdate
	s.mu.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// retract removes the in-progress placeholder entirely; a cancelled exchange
// never leaves a half-written message behind.
func (s *Session) retract(id string) {
	s.mu.Lock()
	kept := s.messages[:0]
	removed := false
	for _, m := range s.messages {
		if m.ID == id {
			removed = true
			continue
		}
		kept = append(kept, m)
	}
	s.messages = kept
	if !removed {
		s.mu.Unlock()
		return
	}
	snapshot := append([]Message(nil), s.messages...)
	cb := s.cfg.Callbacks.OnMessageUpdate
	s.mu.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

func (s *Session) setConversationID(id string) {
	s.mu.Lock()
	s.conversationID = id
	s.mu.Unlock()
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
