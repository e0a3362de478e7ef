package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Callbacks deliver session transitions to the UI layer.
type Callbacks struct {
	// OnConnectionStateChange receives every state transition.
	OnConnectionStateChange func(state ConnectionState)
	// OnError receives failures that prevented or ended a connection.
	// Informational; the session also transitions to Disconnected.
	OnError func(err error)
}

// SessionConfig configures a Session.
type SessionConfig struct {
	// AgentName selects the room on the token issuance endpoint.
	AgentName string
	// Tokens issues join tokens.
	Tokens *TokenClient
	// Transport establishes the room connection.
	Transport Transport
	// NewSink creates playback sinks for subscribed remote tracks.
	NewSink SinkFactory
	// GracePeriod is the wait window after remote departure before the
	// session tears down. Default 5s.
	GracePeriod time.Duration

	Callbacks Callbacks
	Logger    *slog.Logger
}

// Session is one voice conversation: token issuance, room join, remote track
// playback, presence-based teardown. Start and Stop are idempotent; no
// callback or transport failure escapes the session object.
type Session struct {
	cfg    SessionConfig
	logger *slog.Logger

	mu         sync.Mutex
	state      ConnectionState
	room       Room
	subscriber *Subscriber
	presence   *PresenceMonitor
}

// NewSession creates a voice session.
func NewSession(cfg SessionConfig) *Session {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:    cfg,
		logger: logger,
	}
}

// Start obtains a token, joins the room and begins track reconciliation.
// It is a no-op when the session is already connecting or connected. A
// session is single-use: Disconnected is terminal, and Start after Stop is
// also a no-op. Create a new Session for a fresh conversation.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	switch s.state {
	case StateConnecting, StateConnected, StateReconnecting, StateDisconnected:
		s.mu.Unlock()
		return
	}
	s.state = StateConnecting
	s.mu.Unlock()
	s.notifyState(StateConnecting)

	tok, err := s.cfg.Tokens.Generate(ctx, s.cfg.AgentName)
	if err != nil {
		s.failStart(err)
		return
	}

	presence := NewPresenceMonitor(s.cfg.GracePeriod, func() { s.Stop() }, s.logger)

	events := RoomEvents{
		OnParticipantCountChanged: func(count int) {
			presence.Observe(count)
			s.reconcile()
		},
		OnPublicationsChanged: func() { s.reconcile() },
		OnReconnecting: func() {
			if s.transition(StateConnected, StateReconnecting) {
				presence.SetConnected(false)
				s.notifyState(StateReconnecting)
			}
		},
		OnReconnected: func() {
			if s.transition(StateReconnecting, StateConnected) {
				presence.SetConnected(true)
				s.notifyState(StateConnected)
				s.reconcile()
			}
		},
		OnDisconnected: func(err error) {
			if err != nil {
				s.notifyError(err)
			}
			s.Stop()
		},
	}

	room, err := s.cfg.Transport.Connect(ctx, tok.LiveKitURL, tok.Token, events)
	if err != nil {
		s.failStart(err)
		return
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		// Stop raced the connect; unwind.
		s.mu.Unlock()
		room.Disconnect()
		return
	}
	s.room = room
	s.subscriber = NewSubscriber(room, s.cfg.NewSink, s.logger)
	s.presence = presence
	s.state = StateConnected
	s.mu.Unlock()

	presence.SetConnected(true)
	presence.Observe(room.ParticipantCount())
	s.notifyState(StateConnected)
	s.reconcile()
	s.logger.Info("voice session connected", "room", tok.RoomName, "identity", tok.ParticipantIdentity)
}

// Stop tears the session down: sinks released, subscriptions cleared, room
// left, then the Disconnected transition is reported. It is a no-op when the
// session is idle or already disconnected.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == StateIdle || s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	room := s.room
	subscriber := s.subscriber
	presence := s.presence
	s.room = nil
	s.subscriber = nil
	s.presence = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if presence != nil {
		presence.SetConnected(false)
	}
	if subscriber != nil {
		subscriber.Close()
	}
	if room != nil {
		room.Disconnect()
	}
	s.notifyState(StateDisconnected)
	s.logger.Info("voice session disconnected")
}

// SetMuted mutes or unmutes the local microphone. Requested before the mic
// publication exists (or before the room is joined) it is a silent no-op.
func (s *Session) SetMuted(muted bool) {
	s.mu.Lock()
	room := s.room
	s.mu.Unlock()
	if room == nil {
		return
	}
	if err := room.SetMicrophoneMuted(muted); err != nil {
		s.logger.Warn("mute toggle failed", "muted", muted, "error", err)
	}
}

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) reconcile() {
	s.mu.Lock()
	subscriber := s.subscriber
	s.mu.Unlock()
	if subscriber != nil {
		subscriber.Reconcile()
	}
}

// transition moves from -> to atomically and reports whether it happened.
func (s *Session) transition(from, to ConnectionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

// failStart reports a connect failure and lands in Disconnected. If Stop
// already moved the session out of Connecting, the teardown path owns the
// Disconnected transition and failStart stays silent.
func (s *Session) failStart(err error) {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.mu.Unlock()
	s.notifyError(err)
	s.notifyState(StateDisconnected)
	s.logger.Error("voice session start failed", "error", err)
}

func (s *Session) notifyState(state ConnectionState) {
	if cb := s.cfg.Callbacks.OnConnectionStateChange; cb != nil {
		cb(state)
	}
}

func (s *Session) notifyError(err error) {
	if cb := s.cfg.Callbacks.OnError; cb != nil {
		cb(err)
	}
}
