package voice

import "context"

// Track is a subscribed remote media track ready for playback.
type Track interface {
	// ID is the stable track identifier, unique within the room.
	ID() string
}

// Publication is a remote participant's advertised audio track. A publication
// exists before its subscription resolves; Track returns nil until then.
type Publication interface {
	// SID is the publication's server-assigned identifier.
	SID() string
	// IsSubscribed reports whether a subscription has been requested and
	// acknowledged by the server.
	IsSubscribed() bool
	// SetSubscribed requests (or releases) a subscription.
	SetSubscribed(subscribed bool) error
	// Track returns the attachable track, or nil while the subscription is
	// still resolving.
	Track() Track
}

// Sink is a local playback destination bound to one subscribed track.
type Sink interface {
	// Attach binds the track and starts playback.
	Attach(track Track) error
	// Detach stops playback and releases the binding. Idempotent.
	Detach()
}

// SinkFactory creates a playback sink for the given track ID.
type SinkFactory func(trackID string) Sink

// Room is a live connection to a voice room.
type Room interface {
	// RemotePublications returns the current snapshot of remote audio
	// publications.
	RemotePublications() []Publication
	// ParticipantCount returns the number of participants including the
	// local one.
	ParticipantCount() int
	// SetMicrophoneMuted mutes or unmutes the local microphone publication.
	// If no local audio publication exists yet the call is a silent no-op.
	SetMicrophoneMuted(muted bool) error
	// Disconnect leaves the room and releases transport resources.
	Disconnect()
}

// RoomEvents are the callbacks a transport invokes as the room changes.
// Each callback is dispatched from a single event loop; no two callbacks for
// the same room run concurrently.
type RoomEvents struct {
	// OnParticipantCountChanged fires whenever a participant joins or
	// leaves, with the new total count.
	OnParticipantCountChanged func(count int)
	// OnPublicationsChanged fires whenever the remote publication set or a
	// subscription's resolution state changes.
	OnPublicationsChanged func()
	// OnReconnecting fires when the connection drops and a rejoin starts.
	OnReconnecting func()
	// OnReconnected fires when a rejoin succeeds.
	OnReconnected func()
	// OnDisconnected fires when the connection is gone for good. err is nil
	// for a locally requested disconnect.
	OnDisconnected func(err error)
}

// Transport establishes room connections. Implementations live in
// subpackages; tests substitute fakes.
type Transport interface {
	Connect(ctx context.Context, serverURL, token string, events RoomEvents) (Room, error)
}
