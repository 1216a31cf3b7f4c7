package realtime

import "encoding/json"

// Websocket events exchanged with room clients.
const (
	EventConnected         = "connected"
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventTrackPublished    = "track_published"
	EventTrackUnpublished  = "track_unpublished"
	EventActiveSpeakers    = "active_speakers"
	EventSpeaking          = "speaking"
	EventComment           = "comment"
	EventRoomClosed        = "room_closed"
	EventLeave             = "leave"
	EventError             = "error"

	EventPublisherOffer   = "webrtc_publisher_offer"
	EventPublisherAnswer  = "webrtc_publisher_answer"
	EventSubscribe        = "webrtc_subscribe"
	EventSubscriberOffer  = "webrtc_subscriber_offer"
	EventSubscriberAnswer = "webrtc_subscriber_answer"
	EventICE              = "webrtc_ice"
)

// ICE targets.
const (
	TargetPublisher  = "publisher"
	TargetSubscriber = "subscriber"
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ParticipantPayload announces a participant.
type ParticipantPayload struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role,omitempty"`
}

// TrackPayload announces a published track. SID is unique within the room;
// Source is camera, microphone or screen_share.
type TrackPayload struct {
	Identity string `json:"identity"`
	SID      string `json:"sid"`
	Kind     string `json:"kind"`
	Source   string `json:"source"`
}

// ConnectedPayload is the first message a client receives.
type ConnectedPayload struct {
	Identity     string               `json:"identity"`
	Room         string               `json:"room"`
	Participants []ParticipantPayload `json:"participants"`
	Tracks       []TrackPayload       `json:"tracks"`
}

// SpeakersPayload lists the identities currently speaking.
type SpeakersPayload struct {
	Identities []string `json:"identities"`
}

// SpeakingPayload is sent by a client when its local speaking state changes.
type SpeakingPayload struct {
	Speaking bool `json:"speaking"`
}

// SDPPayload carries an offer or answer.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICEPayload carries a trickled candidate for one of the client's peer connections.
type ICEPayload struct {
	Target    string          `json:"target"`
	Candidate json.RawMessage `json:"candidate"`
}

// ErrorPayload reports a recoverable signaling error.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Encode builds a WSMessage from a payload.
func Encode(event string, payload interface{}) (WSMessage, error) {
	if payload == nil {
		return WSMessage{Event: event}, nil
	}
	var data []byte
	switch v := payload.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return WSMessage{}, err
		}
	}
	return WSMessage{Event: event, Data: data}, nil
}
