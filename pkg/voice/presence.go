package voice

import (
	"log/slog"
	"sync"
	"time"
)

// PresenceMonitor watches the participant count and detects the remote peer
// leaving the room.
//
// A departure is observed exactly when the session is connected, the count
// drops to 1 (local participant only) and the previous observation was
// greater than 1. Detection starts a grace-period timer; if the count is
// still 1 at expiry the onRemoteGone callback fires. A rejoin before expiry
// cancels the timer and nothing happens.
type PresenceMonitor struct {
	grace        time.Duration
	onRemoteGone func()
	logger       *slog.Logger

	mu        sync.Mutex
	connected bool
	count     int
	prevCount int
	timer     *time.Timer
}

// NewPresenceMonitor creates a monitor. onRemoteGone is called from the
// timer goroutine when the grace period expires with the remote peer still
// absent.
func NewPresenceMonitor(grace time.Duration, onRemoteGone func(), logger *slog.Logger) *PresenceMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PresenceMonitor{
		grace:        grace,
		onRemoteGone: onRemoteGone,
		logger:       logger,
	}
}

// SetConnected gates departure detection on the session being connected.
// Disconnecting cancels any pending grace timer.
func (p *PresenceMonitor) SetConnected(connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = connected
	if !connected {
		p.stopTimerLocked()
	}
}

// Observe records a new participant count and schedules or cancels the grace
// timer accordingly. The timer is single-slot: a new qualifying observation
// replaces any pending one.
func (p *PresenceMonitor) Observe(count int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.prevCount = p.count
	p.count = count

	if count > 1 {
		// Remote peer present (or rejoined); any pending departure is void.
		p.stopTimerLocked()
		return
	}

	if !p.connected || count != 1 || p.prevCount <= 1 {
		return
	}

	p.logger.Info("remote participant departed, starting grace period", "grace", p.grace)
	p.stopTimerLocked()
	p.timer = time.AfterFunc(p.grace, p.expire)
}

// expire is called when the grace timer fires. The count is re-checked: the
// callback runs only if the remote peer is still absent.
func (p *PresenceMonitor) expire() {
	p.mu.Lock()
	p.timer = nil
	fire := p.connected && p.count == 1
	callback := p.onRemoteGone
	p.mu.Unlock()

	if !fire {
		return
	}
	p.logger.Info("grace period expired without rejoin, tearing down")
	if callback != nil {
		callback()
	}
}

// Cancel stops any pending grace timer without firing the callback.
func (p *PresenceMonitor) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopTimerLocked()
}

func (p *PresenceMonitor) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
