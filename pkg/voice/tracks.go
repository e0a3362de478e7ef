package voice

import (
	"log/slog"
	"sync"

	"github.com/agentdeck/sessionkit/pkg/core"
)

// Subscriber reconciles desired subscription and playback state against the
// room's actual remote publication set. Reconcile runs on every participant
// or track change event; each pass is driven synchronously off a single
// event dispatch, so passes never overlap for one session.
type Subscriber struct {
	room    Room
	newSink SinkFactory
	logger  *slog.Logger

	mu sync.Mutex
	// requested holds publication SIDs a subscribe call was issued for,
	// whether or not the subscription has resolved yet.
	requested map[string]struct{}
	// sinks holds live playback sinks keyed by track ID.
	sinks  map[string]Sink
	closed bool
}

// NewSubscriber creates a subscriber over the given room.
func NewSubscriber(room Room, newSink SinkFactory, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		room:      room,
		newSink:   newSink,
		logger:    logger,
		requested: make(map[string]struct{}),
		sinks:     make(map[string]Sink),
	}
}

// Reconcile walks the current remote publication snapshot: issues subscribe
// requests for publications not yet requested, attaches sinks for resolved
// tracks without one, and garbage-collects sinks whose publication is gone.
func (s *Subscriber) Reconcile() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	pubs := s.room.RemotePublications()
	livePubs := make(map[string]struct{}, len(pubs))
	liveTracks := make(map[string]struct{}, len(pubs))

	for _, pub := range pubs {
		sid := pub.SID()
		livePubs[sid] = struct{}{}

		if !pub.IsSubscribed() {
			if _, asked := s.requested[sid]; !asked {
				s.requested[sid] = struct{}{}
				if err := pub.SetSubscribed(true); err != nil {
					s.logger.Warn("subscribe request failed", "publication", sid, "error", err)
				}
			}
		}

		track := pub.Track()
		if track == nil {
			continue
		}
		trackID := track.ID()
		liveTracks[trackID] = struct{}{}

		if _, bound := s.sinks[trackID]; bound {
			continue
		}
		sink := s.newSink(trackID)
		s.sinks[trackID] = sink
		if err := sink.Attach(track); err != nil {
			// Playback start failures (autoplay restrictions and the like)
			// are logged, never fatal.
			s.logger.Warn("track attach failed", "track", trackID,
				"error", core.NewTrackAttachError(trackID, err))
		}
	}

	for trackID, sink := range s.sinks {
		if _, live := liveTracks[trackID]; !live {
			sink.Detach()
			delete(s.sinks, trackID)
		}
	}
	for sid := range s.requested {
		if _, live := livePubs[sid]; !live {
			delete(s.requested, sid)
		}
	}
}

// Close detaches every remaining sink and clears all bookkeeping. The
// subscriber is unusable afterwards.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for trackID, sink := range s.sinks {
		sink.Detach()
		delete(s.sinks, trackID)
	}
	s.requested = make(map[string]struct{})
}
