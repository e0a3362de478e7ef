package translate

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sink receives translated (or fallback) answer text for UI delivery.
type Sink func(text string)

// Gate layers debounced, de-duplicated re-translation on top of an
// accumulating answer. One Gate serves exactly one exchange: Activate fixes
// the translation decision for the exchange's duration, Push schedules
// trailing-edge debounced passes, and Flush forces the final pass when the
// stream ends.
type Gate struct {
	translator Translator
	working    string
	debounce   time.Duration
	sink       Sink
	logger     *slog.Logger

	mu            sync.Mutex
	ctx           context.Context
	active        bool
	target        string
	timer         *time.Timer
	pending       string
	lastRequested string
	generation    uint64
	emittedGen    uint64
	cancelled     bool
}

// NewGate creates a gate for one exchange. A nil logger falls back to
// slog.Default().
func NewGate(translator Translator, workingLanguage string, debounce time.Duration, sink Sink, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		translator: translator,
		working:    workingLanguage,
		debounce:   debounce,
		sink:       sink,
		logger:     logger,
	}
}

// Activate decides once, from the language of the user's original input,
// whether this exchange translates its answer. The decision is fixed for the
// exchange; a language drift in the accumulating answer never retriggers it.
func (g *Gate) Activate(ctx context.Context, detectedLanguage string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ctx = ctx
	g.active = g.translator != nil && NeedsTranslation(detectedLanguage, g.working)
	g.target = detectedLanguage
	return g.active
}

// Active reports whether the gate translates this exchange.
func (g *Gate) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Push records the latest accumulated snapshot and (re)schedules the debounce
// timer. A push arriving before the timer fires replaces it; at most one
// timer is outstanding.
func (g *Gate) Push(accumulated string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.active || g.cancelled {
		return
	}
	g.pending = accumulated

	if g.timer != nil {
		g.timer.Stop()
	}
	g.timer = time.AfterFunc(g.debounce, func() {
		g.deliver(false)
	})
}

// Flush forces a final translation pass if and only if the gate is active,
// guaranteeing the last delivered text is fully translated even when the
// debounce timer had not fired.
func (g *Gate) Flush() {
	g.mu.Lock()
	if !g.active || g.cancelled {
		g.mu.Unlock()
		return
	}
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.mu.Unlock()

	g.deliver(true)
}

// Cancel clears any pending timer and suppresses all further delivery from
// this gate. Used when the exchange is cancelled.
func (g *Gate) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = true
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

// deliver translates the pending snapshot and hands the result to the sink.
// Identical snapshots are short-circuited unless forced; translation failures
// fall back to the untranslated text so the sink never goes stale.
//
// Each delivery takes a generation number under the mutex before translating.
// The sink only sees results in generation order: a slow pass whose
// translation finishes after a newer delivery has already emitted is dropped,
// so a forced flush can never be overwritten by a stale debounced snapshot.
func (g *Gate) deliver(force bool) {
	g.mu.Lock()
	if !g.active || g.cancelled {
		g.mu.Unlock()
		return
	}
	snapshot := g.pending
	ctx := g.ctx
	target := g.target
	if snapshot == "" {
		g.mu.Unlock()
		return
	}
	if !force && snapshot == g.lastRequested {
		g.mu.Unlock()
		return
	}
	g.lastRequested = snapshot
	g.generation++
	gen := g.generation
	g.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	out, err := g.translator.TranslateFromWorking(ctx, snapshot, target)
	if err != nil {
		g.logger.Warn("translation failed, delivering source text", "error", err)
		out = snapshot
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelled || g.sink == nil || gen <= g.emittedGen {
		return
	}
	g.emittedGen = gen
	g.sink(out)
}
