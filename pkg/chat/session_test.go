package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentdeck/sessionkit/pkg/core"
)

// messageRecorder captures every OnMessageUpdate snapshot.
type messageRecorder struct {
	mu        sync.Mutex
	snapshots [][]Message
	errs      []error
}

func (r *messageRecorder) callbacks() Callbacks {
	return Callbacks{
		OnMessageUpdate: func(messages []Message) {
			r.mu.Lock()
			r.snapshots = append(r.snapshots, messages)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
	}
}

func (r *messageRecorder) last() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return nil
	}
	return r.snapshots[len(r.snapshots)-1]
}

// assistantContents returns every non-empty assistant content the UI observed.
func (r *messageRecorder) assistantContents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, snap := range r.snapshots {
		for _, m := range snap {
			if m.Role == RoleAssistant && m.Content != "" {
				out = append(out, m.Content)
			}
		}
	}
	return out
}

func (r *messageRecorder) errorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

// echoTranslator is a deterministic Translator for tests.
type echoTranslator struct {
	mu        sync.Mutex
	fromCalls int
}

func (e *echoTranslator) TranslateToWorking(_ context.Context, text, _ string) (string, error) {
	return "translated-query:" + text, nil
}

func (e *echoTranslator) TranslateFromWorking(_ context.Context, text, target string) (string, error) {
	e.mu.Lock()
	e.fromCalls++
	e.mu.Unlock()
	return "[" + target + "]" + text, nil
}

func sseHandler(t *testing.T, lines []string, gotReqs *[]SendRequest, mu *sync.Mutex) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var req SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if gotReqs != nil {
			mu.Lock()
			*gotReqs = append(*gotReqs, req)
			mu.Unlock()
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprint(w, line)
			flusher.Flush()
		}
	}
}

func TestSendAccumulatesChunksInOrder(t *testing.T) {
	var mu sync.Mutex
	var reqs []SendRequest
	srv := httptest.NewServer(sseHandler(t, []string{
		"data: {\"answer\":\"Hi\",\"conversation_id\":\"conv-1\"}\n",
		"data: {\"answer\":\" there\"}\n",
		"data: [DONE]\n",
	}, &reqs, &mu))
	defer srv.Close()

	rec := &messageRecorder{}
	session := NewSession(NewClient(srv.URL, "key"), SessionConfig{
		User:      "u-1",
		Callbacks: rec.callbacks(),
	})

	session.Send(context.Background(), "Hello")

	final := rec.last()
	if len(final) != 2 {
		t.Fatalf("final message count = %d, want 2", len(final))
	}
	if final[0].Role != RoleUser || final[0].Content != "Hello" {
		t.Fatalf("user message = %+v", final[0])
	}
	if final[1].Role != RoleAssistant || final[1].Content != "Hi there" {
		t.Fatalf("assistant message = %+v", final[1])
	}

	// Without a translation gate, delivery is immediate per chunk.
	contents := rec.assistantContents()
	if len(contents) < 2 || contents[0] != "Hi" {
		t.Fatalf("per-chunk deliveries = %v, want immediate Hi first", contents)
	}

	if session.ConversationID() != "conv-1" {
		t.Fatalf("ConversationID = %q, want conv-1", session.ConversationID())
	}
	if session.State() != StateCompleted {
		t.Fatalf("State = %v, want COMPLETED", session.State())
	}
}

func TestSendNoOpOnBlankInput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("no request expected for blank input")
	}))
	defer srv.Close()

	session := NewSession(NewClient(srv.URL, "key"), SessionConfig{})
	session.Send(context.Background(), "   ")

	if session.State() != StateIdle {
		t.Fatalf("State = %v, want IDLE", session.State())
	}
}

func TestSendReusesConversationHandle(t *testing.T) {
	var mu sync.Mutex
	var reqs []SendRequest
	srv := httptest.NewServer(sseHandler(t, []string{
		"data: {\"answer\":\"ok\",\"conversation_id\":\"conv-9\"}\n",
	}, &reqs, &mu))
	defer srv.Close()

	session := NewSession(NewClient(srv.URL, "key"), SessionConfig{})
	session.Send(context.Background(), "first")
	session.Send(context.Background(), "second")

	mu.Lock()
	defer mu.Unlock()
	if len(reqs) != 2 {
		t.Fatalf("request count = %d, want 2", len(reqs))
	}
	if reqs[0].ConversationID != "" {
		t.Fatalf("first request carried conversation_id %q", reqs[0].ConversationID)
	}
	if reqs[1].ConversationID != "conv-9" {
		t.Fatalf("second request conversation_id = %q, want conv-9", reqs[1].ConversationID)
	}
}

func TestSendGatedTranslationDelivery(t *testing.T) {
	var mu sync.Mutex
	var reqs []SendRequest
	srv := httptest.NewServer(sseHandler(t, []string{
		"data: {\"answer\":\"Good\"}\n",
		"data: {\"answer\":\" morning\"}\n",
		"data: [DONE]\n",
	}, &reqs, &mu))
	defer srv.Close()

	rec := &messageRecorder{}
	tr := &echoTranslator{}
	session := NewSession(NewClient(srv.URL, "key"), SessionConfig{
		Translator:        tr,
		WorkingLanguage:   "en",
		TranslateDebounce: time.Hour, // only the forced final flush may deliver
		Callbacks:         rec.callbacks(),
	})

	session.Send(context.Background(), "Guten Morgen, wie geht es dir heute? Ich hoffe, du hattest eine angenehme Woche.")

	mu.Lock()
	query := reqs[0].Query
	mu.Unlock()
	if !strings.HasPrefix(query, "translated-query:") {
		t.Fatalf("query = %q, want pre-translated dispatch", query)
	}

	// The UI must never observe raw working-language accumulation.
	for _, content := range rec.assistantContents() {
		if !strings.HasPrefix(content, "[de]") {
			t.Fatalf("UI observed untranslated content %q", content)
		}
	}

	final := rec.last()
	if got := final[len(final)-1].Content; got != "[de]Good morning" {
		t.Fatalf("final assistant content = %q, want [de]Good morning", got)
	}
}

func TestSendRendersTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message":"Agent not configured","code":"agent_missing"}`)
	}))
	defer srv.Close()

	rec := &messageRecorder{}
	session := NewSession(NewClient(srv.URL, "key"), SessionConfig{Callbacks: rec.callbacks()})
	session.Send(context.Background(), "Hello")

	final := rec.last()
	if len(final) != 2 {
		t.Fatalf("final message count = %d, want 2", len(final))
	}
	if final[1].Content != "Agent not configured" {
		t.Fatalf("assistant content = %q, want error text", final[1].Content)
	}
	if rec.errorCount() != 1 {
		t.Fatalf("OnError calls = %d, want 1", rec.errorCount())
	}
	if session.State() != StateCompleted {
		t.Fatalf("State = %v, want COMPLETED", session.State())
	}

	var coreErr *core.Error
	rec.mu.Lock()
	err := rec.errs[0]
	rec.mu.Unlock()
	if !errors.As(err, &coreErr) || coreErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("OnError err = %v, want transport error with status 400", err)
	}
}

func TestCancelRetractsPlaceholder(t *testing.T) {
	firstChunk := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"answer\":\"partial\"}\n")
		flusher.Flush()
		close(firstChunk)
		<-r.Context().Done()
	}))
	defer srv.Close()

	rec := &messageRecorder{}
	session := NewSession(NewClient(srv.URL, "key"), SessionConfig{Callbacks: rec.callbacks()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		session.Send(ctx, "Hello")
		close(done)
	}()

	<-firstChunk
	cancel()
	<-done

	for _, m := range session.Messages() {
		if m.Role == RoleAssistant {
			t.Fatalf("placeholder leaked into final message list: %+v", m)
		}
	}
	if rec.errorCount() != 0 {
		t.Fatalf("cancellation produced %d user-visible errors", rec.errorCount())
	}
	if session.State() != StateAborted {
		t.Fatalf("State = %v, want ABORTED", session.State())
	}
}

func TestResetDuringStreamThenFreshSend(t *testing.T) {
	var mu sync.Mutex
	var reqs []SendRequest
	firstChunk := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req SendRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		reqs = append(reqs, req)
		n := len(reqs)
		mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		if n == 1 {
			fmt.Fprint(w, "data: {\"answer\":\"partial\",\"conversation_id\":\"conv-old\"}\n")
			flusher.Flush()
			once.Do(func() { close(firstChunk) })
			<-r.Context().Done()
			return
		}
		fmt.Fprint(w, "data: {\"answer\":\"fresh\",\"conversation_id\":\"conv-new\"}\n")
		flusher.Flush()
	}))
	defer srv.Close()

	session := NewSession(NewClient(srv.URL, "key"), SessionConfig{})

	done := make(chan struct{})
	go func() {
		session.Send(context.Background(), "first")
		close(done)
	}()

	<-firstChunk
	session.Reset()
	<-done

	if got := session.Messages(); len(got) != 0 {
		t.Fatalf("messages after reset = %v, want empty", got)
	}

	session.Send(context.Background(), "second")

	mu.Lock()
	defer mu.Unlock()
	if len(reqs) != 2 {
		t.Fatalf("request count = %d, want 2", len(reqs))
	}
	if reqs[1].ConversationID != "" {
		t.Fatalf("fresh send carried stale conversation_id %q", reqs[1].ConversationID)
	}
	if session.ConversationID() != "conv-new" {
		t.Fatalf("ConversationID = %q, want conv-new", session.ConversationID())
	}
}

func TestSendNoOpWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var reqCount int
	var mu sync.Mutex
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reqCount++
		mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		once.Do(func() { close(started) })
		<-release
	}))
	defer srv.Close()

	session := NewSession(NewClient(srv.URL, "key"), SessionConfig{})

	done := make(chan struct{})
	go func() {
		session.Send(context.Background(), "first")
		close(done)
	}()

	<-started
	session.Send(context.Background(), "second") // must return immediately
	close(release)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if reqCount != 1 {
		t.Fatalf("request count = %d, want 1 (second send is a no-op)", reqCount)
	}
}
