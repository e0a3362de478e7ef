// Package livekit adapts a LiveKit room connection to the voice transport
// interfaces.
package livekit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"

	"github.com/agentdeck/sessionkit/pkg/voice"
)

// Transport establishes LiveKit room connections. Auto-subscribe is
// disabled; subscriptions are driven explicitly by the reconciliation loop.
type Transport struct {
	logger *slog.Logger
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) TransportOption {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTransport creates a LiveKit transport.
func NewTransport(opts ...TransportOption) *Transport {
	t := &Transport{logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect joins the room with the given token and wires room events through
// to the session's callbacks.
func (t *Transport) Connect(ctx context.Context, serverURL, token string, events voice.RoomEvents) (voice.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := &room{logger: t.logger}

	countChanged := func(*lksdk.RemoteParticipant) {
		if events.OnParticipantCountChanged != nil {
			events.OnParticipantCountChanged(r.ParticipantCount())
		}
	}
	pubsChanged := func() {
		if events.OnPublicationsChanged != nil {
			events.OnPublicationsChanged()
		}
	}

	callback := &lksdk.RoomCallback{
		OnParticipantConnected:    countChanged,
		OnParticipantDisconnected: countChanged,
		OnReconnecting: func() {
			if events.OnReconnecting != nil {
				events.OnReconnecting()
			}
		},
		OnReconnected: func() {
			if events.OnReconnected != nil {
				events.OnReconnected()
			}
		},
		OnDisconnected: func() {
			if events.OnDisconnected != nil {
				events.OnDisconnected(nil)
			}
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackPublished: func(_ *lksdk.RemoteTrackPublication, _ *lksdk.RemoteParticipant) {
				pubsChanged()
			},
			OnTrackUnpublished: func(_ *lksdk.RemoteTrackPublication, _ *lksdk.RemoteParticipant) {
				pubsChanged()
			},
			OnTrackSubscribed: func(_ *webrtc.TrackRemote, _ *lksdk.RemoteTrackPublication, _ *lksdk.RemoteParticipant) {
				pubsChanged()
			},
			OnTrackUnsubscribed: func(_ *webrtc.TrackRemote, _ *lksdk.RemoteTrackPublication, _ *lksdk.RemoteParticipant) {
				pubsChanged()
			},
		},
	}

	lkRoom, err := lksdk.ConnectToRoomWithToken(serverURL, token, callback, lksdk.WithAutoSubscribe(false))
	if err != nil {
		return nil, err
	}
	r.room = lkRoom
	return r, nil
}

type room struct {
	room   *lksdk.Room
	logger *slog.Logger
}

func (r *room) RemotePublications() []voice.Publication {
	var pubs []voice.Publication
	for _, rp := range r.room.GetRemoteParticipants() {
		for _, pub := range rp.TrackPublications() {
			remote, ok := pub.(*lksdk.RemoteTrackPublication)
			if !ok || remote.Kind() != lksdk.TrackKindAudio {
				continue
			}
			// Screen-share and other non-microphone audio is not part of the
			// conversation.
			if remote.Source() != livekit.TrackSource_MICROPHONE && remote.Source() != livekit.TrackSource_UNKNOWN {
				continue
			}
			pubs = append(pubs, &publication{pub: remote})
		}
	}
	return pubs
}

func (r *room) ParticipantCount() int {
	return 1 + len(r.room.GetRemoteParticipants())
}

// SetMicrophoneMuted mutes the local participant's first audio publication.
// Before the mic track is published there is nothing to mute and the call
// returns nil.
func (r *room) SetMicrophoneMuted(muted bool) error {
	for _, pub := range r.room.LocalParticipant.TrackPublications() {
		local, ok := pub.(*lksdk.LocalTrackPublication)
		if !ok || local.Kind() != lksdk.TrackKindAudio {
			continue
		}
		local.SetMuted(muted)
		return nil
	}
	return nil
}

func (r *room) Disconnect() {
	r.room.Disconnect()
}

type publication struct {
	pub *lksdk.RemoteTrackPublication
}

func (p *publication) SID() string        { return p.pub.SID() }
func (p *publication) IsSubscribed() bool { return p.pub.IsSubscribed() }

func (p *publication) SetSubscribed(subscribed bool) error {
	return p.pub.SetSubscribed(subscribed)
}

func (p *publication) Track() voice.Track {
	remote := p.pub.TrackRemote()
	if remote == nil {
		return nil
	}
	return &remoteTrack{remote: remote}
}

type remoteTrack struct {
	remote *webrtc.TrackRemote
}

func (t *remoteTrack) ID() string { return t.remote.ID() }

// DrainSink reads and discards RTP packets from an attached track. It keeps
// the subscription flowing when no real playback destination exists, such as
// in the probe binary.
type DrainSink struct {
	logger    *slog.Logger
	done      chan struct{}
	closeOnce sync.Once
}

// NewDrainSinkFactory returns a SinkFactory producing drain sinks.
func NewDrainSinkFactory(logger *slog.Logger) voice.SinkFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(trackID string) voice.Sink {
		return &DrainSink{
			logger: logger.With("track", trackID),
			done:   make(chan struct{}),
		}
	}
}

// Attach starts draining the track. The track must originate from this
// package's transport.
func (s *DrainSink) Attach(track voice.Track) error {
	rt, ok := track.(*remoteTrack)
	if !ok {
		return errors.New("track does not carry a webrtc remote track")
	}
	go s.drain(rt.remote)
	return nil
}

func (s *DrainSink) drain(remote *webrtc.TrackRemote) {
	for {
		select {
		case <-s.done:
			return
		default:
		}
		if _, _, err := remote.ReadRTP(); err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("rtp read ended", "error", err)
			}
			return
		}
	}
}

// Detach stops the drain loop. Idempotent.
func (s *DrainSink) Detach() {
	s.closeOnce.Do(func() { close(s.done) })
}
