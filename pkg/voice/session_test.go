package voice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/agentdeck/sessionkit/pkg/core"
)

type fakeTransport struct {
	mu       sync.Mutex
	room     *fakeRoom
	events   RoomEvents
	connects int
	err      error

	gotURL   string
	gotToken string
}

func (t *fakeTransport) Connect(_ context.Context, serverURL, token string, events RoomEvents) (Room, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	t.gotURL = serverURL
	t.gotToken = token
	t.events = events
	if t.err != nil {
		return nil, t.err
	}
	if t.room == nil {
		t.room = &fakeRoom{count: 1}
	}
	return t.room, nil
}

func (t *fakeTransport) roomEvents() RoomEvents {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events
}

func (t *fakeTransport) connectCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

type stateRecorder struct {
	mu     sync.Mutex
	states []ConnectionState
	errs   []error
	signal chan struct{}
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{signal: make(chan struct{}, 16)}
}

func (r *stateRecorder) callbacks() Callbacks {
	return Callbacks{
		OnConnectionStateChange: func(state ConnectionState) {
			r.mu.Lock()
			r.states = append(r.states, state)
			r.mu.Unlock()
			select {
			case r.signal <- struct{}{}:
			default:
			}
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
	}
}

func (r *stateRecorder) seen() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnectionState(nil), r.states...)
}

func (r *stateRecorder) waitFor(t *testing.T, want ConnectionState) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		for _, s := range r.seen() {
			if s == want {
				return
			}
		}
		select {
		case <-r.signal:
		case <-deadline:
			t.Fatalf("state %v never reported; saw %v", want, r.seen())
		}
	}
}

func tokenServer(t *testing.T, gotAgent *string, gotKey *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tokens/generate" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if gotAgent != nil {
			*gotAgent = r.URL.Query().Get("agent_name")
		}
		if gotKey != nil {
			*gotKey = r.Header.Get("X-API-Key")
		}
		fmt.Fprint(w, `{"token":"tok-1","room_name":"room-1","livekit_url":"wss://lk.example","participant_identity":"user-1"}`)
	}))
}

func newTestSession(t *testing.T, srv *httptest.Server, transport *fakeTransport, rec *stateRecorder, grace time.Duration) *Session {
	t.Helper()
	return NewSession(SessionConfig{
		AgentName:   "agent-1",
		Tokens:      NewTokenClient(srv.URL, "secret"),
		Transport:   transport,
		NewSink:     newSinkRegistry().factory,
		GracePeriod: grace,
		Callbacks:   rec.callbacks(),
	})
}

func TestSessionStartConnects(t *testing.T) {
	var gotAgent, gotKey string
	srv := tokenServer(t, &gotAgent, &gotKey)
	defer srv.Close()

	transport := &fakeTransport{}
	rec := newStateRecorder()
	session := newTestSession(t, srv, transport, rec, time.Second)

	session.Start(context.Background())

	if session.State() != StateConnected {
		t.Fatalf("State = %v, want CONNECTED", session.State())
	}
	if gotAgent != "agent-1" {
		t.Fatalf("agent_name = %q, want agent-1", gotAgent)
	}
	if gotKey != "secret" {
		t.Fatalf("X-API-Key = %q, want secret", gotKey)
	}
	if transport.gotURL != "wss://lk.example" || transport.gotToken != "tok-1" {
		t.Fatalf("connect args = (%q, %q)", transport.gotURL, transport.gotToken)
	}

	want := []ConnectionState{StateConnecting, StateConnected}
	got := rec.seen()
	if len(got) != len(want) {
		t.Fatalf("state transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("state transitions = %v, want %v", got, want)
		}
	}
}

func TestSessionStartIsIdempotent(t *testing.T) {
	srv := tokenServer(t, nil, nil)
	defer srv.Close()

	transport := &fakeTransport{}
	rec := newStateRecorder()
	session := newTestSession(t, srv, transport, rec, time.Second)

	session.Start(context.Background())
	session.Start(context.Background())
	session.Start(context.Background())

	if transport.connectCount() != 1 {
		t.Fatalf("connect count = %d, want 1", transport.connectCount())
	}
}

func TestSessionStopTearsDownOnce(t *testing.T) {
	srv := tokenServer(t, nil, nil)
	defer srv.Close()

	transport := &fakeTransport{}
	rec := newStateRecorder()
	session := newTestSession(t, srv, transport, rec, time.Second)

	session.Start(context.Background())
	session.Stop()
	session.Stop()

	if session.State() != StateDisconnected {
		t.Fatalf("State = %v, want DISCONNECTED", session.State())
	}
	if !transport.room.isDisconnected() {
		t.Fatal("room was not disconnected")
	}

	disconnects := 0
	for _, s := range rec.seen() {
		if s == StateDisconnected {
			disconnects++
		}
	}
	if disconnects != 1 {
		t.Fatalf("DISCONNECTED reported %d times, want 1", disconnects)
	}
}

func TestSessionStopBeforeStartIsNoOp(t *testing.T) {
	rec := newStateRecorder()
	session := NewSession(SessionConfig{Callbacks: rec.callbacks()})

	session.Stop()

	if session.State() != StateIdle {
		t.Fatalf("State = %v, want IDLE", session.State())
	}
	if len(rec.seen()) != 0 {
		t.Fatalf("transitions reported for no-op stop: %v", rec.seen())
	}
}

func TestSessionTokenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"bad api key"}`)
	}))
	defer srv.Close()

	transport := &fakeTransport{}
	rec := newStateRecorder()
	session := newTestSession(t, srv, transport, rec, time.Second)

	session.Start(context.Background())

	if session.State() != StateDisconnected {
		t.Fatalf("State = %v, want DISCONNECTED", session.State())
	}
	if transport.connectCount() != 0 {
		t.Fatal("transport connect attempted after token failure")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.errs) != 1 {
		t.Fatalf("error callbacks = %d, want 1", len(rec.errs))
	}
	var coreErr *core.Error
	if !errors.As(rec.errs[0], &coreErr) || coreErr.Message != "bad api key" {
		t.Fatalf("error = %v, want token endpoint message", rec.errs[0])
	}
	if coreErr.Type != core.ErrAuthentication {
		t.Fatalf("error type = %v, want %v", coreErr.Type, core.ErrAuthentication)
	}
}

func TestSessionStartAfterStopIsNoOp(t *testing.T) {
	srv := tokenServer(t, nil, nil)
	defer srv.Close()

	transport := &fakeTransport{}
	rec := newStateRecorder()
	session := newTestSession(t, srv, transport, rec, time.Second)

	session.Start(context.Background())
	session.Stop()
	session.Start(context.Background())

	if session.State() != StateDisconnected {
		t.Fatalf("State = %v, want DISCONNECTED", session.State())
	}
	if transport.connectCount() != 1 {
		t.Fatalf("connect count = %d, want 1", transport.connectCount())
	}

	want := []ConnectionState{StateConnecting, StateConnected, StateDisconnected}
	got := rec.seen()
	if len(got) != len(want) {
		t.Fatalf("state transitions = %v, want %v", got, want)
	}
}

func TestSessionStopDuringTokenFetch(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	transport := &fakeTransport{}
	rec := newStateRecorder()
	session := newTestSession(t, srv, transport, rec, time.Second)

	done := make(chan struct{})
	go func() {
		session.Start(context.Background())
		close(done)
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("token request never arrived")
	}
	session.Stop()
	close(release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start never returned")
	}

	// Stop owns the Disconnected transition; the failed start must not
	// report a second one or surface the late token error.
	disconnects := 0
	for _, s := range rec.seen() {
		if s == StateDisconnected {
			disconnects++
		}
	}
	if disconnects != 1 {
		t.Fatalf("DISCONNECTED reported %d times, want 1", disconnects)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.errs) != 0 {
		t.Fatalf("error callbacks = %v, want none after Stop won the race", rec.errs)
	}
}

func TestSessionMuteBeforeConnectIsNoOp(t *testing.T) {
	session := NewSession(SessionConfig{})
	session.SetMuted(true) // must not panic
}

func TestSessionMuteForwardsToRoom(t *testing.T) {
	srv := tokenServer(t, nil, nil)
	defer srv.Close()

	transport := &fakeTransport{}
	rec := newStateRecorder()
	session := newTestSession(t, srv, transport, rec, time.Second)

	session.Start(context.Background())
	session.SetMuted(true)
	session.SetMuted(false)

	transport.room.mu.Lock()
	defer transport.room.mu.Unlock()
	if len(transport.room.muteCalls) != 2 || !transport.room.muteCalls[0] || transport.room.muteCalls[1] {
		t.Fatalf("mute calls = %v, want [true false]", transport.room.muteCalls)
	}
}

func TestSessionRemoteDepartureDisconnects(t *testing.T) {
	srv := tokenServer(t, nil, nil)
	defer srv.Close()

	transport := &fakeTransport{}
	rec := newStateRecorder()
	session := newTestSession(t, srv, transport, rec, 20*time.Millisecond)

	session.Start(context.Background())

	events := transport.roomEvents()
	events.OnParticipantCountChanged(2)
	events.OnParticipantCountChanged(1)

	rec.waitFor(t, StateDisconnected)
	if !transport.room.isDisconnected() {
		t.Fatal("room was not disconnected after grace expiry")
	}
}

func TestSessionRemoteRejoinKeepsConnection(t *testing.T) {
	srv := tokenServer(t, nil, nil)
	defer srv.Close()

	transport := &fakeTransport{}
	rec := newStateRecorder()
	session := newTestSession(t, srv, transport, rec, 20*time.Millisecond)

	session.Start(context.Background())

	events := transport.roomEvents()
	events.OnParticipantCountChanged(2)
	events.OnParticipantCountChanged(1)
	events.OnParticipantCountChanged(2)

	time.Sleep(80 * time.Millisecond)
	if session.State() != StateConnected {
		t.Fatalf("State = %v, want CONNECTED after rejoin", session.State())
	}
}

func TestSessionReconnectTransitions(t *testing.T) {
	srv := tokenServer(t, nil, nil)
	defer srv.Close()

	transport := &fakeTransport{}
	rec := newStateRecorder()
	session := newTestSession(t, srv, transport, rec, time.Second)

	session.Start(context.Background())

	events := transport.roomEvents()
	events.OnReconnecting()
	if session.State() != StateReconnecting {
		t.Fatalf("State = %v, want RECONNECTING", session.State())
	}
	events.OnReconnected()
	if session.State() != StateConnected {
		t.Fatalf("State = %v, want CONNECTED", session.State())
	}
}

func TestSessionTransportDisconnectReportsError(t *testing.T) {
	srv := tokenServer(t, nil, nil)
	defer srv.Close()

	transport := &fakeTransport{}
	rec := newStateRecorder()
	session := newTestSession(t, srv, transport, rec, time.Second)

	session.Start(context.Background())

	events := transport.roomEvents()
	events.OnDisconnected(errors.New("connection lost"))

	rec.waitFor(t, StateDisconnected)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.errs) != 1 {
		t.Fatalf("error callbacks = %d, want 1", len(rec.errs))
	}
}
