// Package room manages a client's connection to a live-session media room:
// joining with timeout and retry, the participant roster, remote track
// attachment, local media toggles, reconnection and leave.
package room

import "context"

// EventKind identifies a room event delivered by a Transport.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventParticipantJoined
	EventParticipantLeft
	EventTrackPublished
	EventTrackUnpublished
	EventActiveSpeakers
	EventRosterSync
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventParticipantJoined:
		return "participant_joined"
	case EventParticipantLeft:
		return "participant_left"
	case EventTrackPublished:
		return "track_published"
	case EventTrackUnpublished:
		return "track_unpublished"
	case EventActiveSpeakers:
		return "active_speakers"
	case EventRosterSync:
		return "roster_sync"
	default:
		return "unknown"
	}
}

// TrackKind is the media kind of a track.
type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// TrackSource is the device a track originates from.
type TrackSource string

const (
	SourceCamera      TrackSource = "camera"
	SourceMicrophone  TrackSource = "microphone"
	SourceScreenShare TrackSource = "screen_share"
)

// TrackInfo describes a published track.
type TrackInfo struct {
	SID    string
	Kind   TrackKind
	Source TrackSource
}

// Event is a single room event. Which fields are set depends on Kind:
// Identity for participant and track events, Track for track events,
// Identities for active speakers and roster sync, Err for disconnects.
type Event struct {
	Kind       EventKind
	Identity   string
	Track      TrackInfo
	Identities []string
	Err        error
}

// RemoteTrack is a subscribed remote track attached to a local sink.
type RemoteTrack interface {
	SID() string
	Kind() TrackKind
	Detach() error
}

// Transport is the media/signaling SDK the manager drives.
//
// Connect starts a connection attempt and returns an error for failures it can
// detect synchronously (bad credential, unreachable address). Success is
// reported by an EventConnected on Events; a failed handshake by an
// EventDisconnected carrying the cause. Connect may be called again after a
// disconnect to reconnect. The Events channel lives as long as the Transport.
type Transport interface {
	Connect(ctx context.Context, address, token string) error
	Disconnect() error
	Events() <-chan Event

	EnableCamera(ctx context.Context, on bool) error
	EnableMicrophone(ctx context.Context, on bool) error
	EnableScreenShare(ctx context.Context, on bool) error

	Subscribe(identity string, track TrackInfo) (RemoteTrack, error)
}

// TransportFactory builds a fresh Transport for one connection.
type TransportFactory func() Transport
