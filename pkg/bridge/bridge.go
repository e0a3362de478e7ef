// Package bridge pushes session events to UI clients over WebSocket.
//
// The session core reports progress through callbacks; the bridge fans those
// out as JSON frames to every connected client. Slow consumers are dropped
// rather than allowed to stall the session.
package bridge

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentdeck/sessionkit/pkg/chat"
	"github.com/agentdeck/sessionkit/pkg/voice"
)

const (
	writeTimeout  = 5 * time.Second
	pingInterval  = 20 * time.Second
	sendQueueSize = 32
)

// Event is one frame pushed to UI clients.
type Event struct {
	Type     string    `json:"type"`
	Messages []Message `json:"messages,omitempty"`
	State    string    `json:"state,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// Message is the wire shape of one conversation entry.
type Message struct {
	ID               string    `json:"id"`
	Role             string    `json:"role"`
	Content          string    `json:"content"`
	Timestamp        time.Time `json:"timestamp"`
	OriginalLanguage string    `json:"original_language,omitempty"`
}

const (
	EventMessages        = "messages"
	EventConnectionState = "connection_state"
	EventError           = "error"
)

// Bridge accepts WebSocket clients and broadcasts session events to them.
type Bridge struct {
	logger *slog.Logger

	mu     sync.Mutex
	conns  map[*conn]struct{}
	closed bool
}

// New creates a bridge.
func New(logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		logger: logger,
		conns:  make(map[*conn]struct{}),
	}
}

// ServeHTTP upgrades the request and serves events until the client leaves.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &conn{
		ws:   ws,
		send: make(chan Event, sendQueueSize),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ws.Close()
		return
	}
	b.conns[c] = struct{}{}
	b.mu.Unlock()

	go c.writeLoop(b.logger)

	// Read loop: the bridge is push-only, inbound frames are discarded. A
	// read error means the client is gone.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	b.drop(c)
}

// Broadcast queues an event for every connected client. Never blocks: a
// client whose queue is full misses the event and a later snapshot frame
// catches it up.
func (b *Bridge) Broadcast(ev Event) {
	b.mu.Lock()
	conns := make([]*conn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		select {
		case c.send <- ev:
		default:
			b.logger.Debug("bridge client too slow, dropping frame", "type", ev.Type)
		}
	}
}

// ChatCallbacks returns chat callbacks that broadcast to all clients.
func (b *Bridge) ChatCallbacks() chat.Callbacks {
	return chat.Callbacks{
		OnMessageUpdate: func(messages []chat.Message) {
			wire := make([]Message, len(messages))
			for i, m := range messages {
				wire[i] = Message{
					ID:               m.ID,
					Role:             string(m.Role),
					Content:          m.Content,
					Timestamp:        m.Timestamp,
					OriginalLanguage: m.OriginalLanguage,
				}
			}
			b.Broadcast(Event{Type: EventMessages, Messages: wire})
		},
		OnError: func(err error) {
			b.Broadcast(Event{Type: EventError, Message: err.Error()})
		},
	}
}

// VoiceCallbacks returns voice callbacks that broadcast to all clients.
func (b *Bridge) VoiceCallbacks() voice.Callbacks {
	return voice.Callbacks{
		OnConnectionStateChange: func(state voice.ConnectionState) {
			b.Broadcast(Event{Type: EventConnectionState, State: state.String()})
		},
		OnError: func(err error) {
			b.Broadcast(Event{Type: EventError, Message: err.Error()})
		},
	}
}

// Close disconnects every client. The bridge accepts no new clients after.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	conns := make([]*conn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.conns = make(map[*conn]struct{})
	b.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

func (b *Bridge) drop(c *conn) {
	b.mu.Lock()
	_, present := b.conns[c]
	delete(b.conns, c)
	b.mu.Unlock()
	if present {
		c.close()
	}
}

type conn struct {
	ws        *websocket.Conn
	send      chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(writeTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.ws.Close()
	})
}

// writeLoop is the single writer for one client connection.
func (c *conn) writeLoop(logger *slog.Logger) {
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-pingTicker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				c.close()
				return
			}
		case ev := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteJSON(ev); err != nil {
				logger.Debug("bridge write failed", "error", err)
				c.close()
				return
			}
		}
	}
}
