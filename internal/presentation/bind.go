package presentation

import "github.com/aura-live/backend/internal/room"

// Bind feeds conn's roster into a new router for conn's local participant.
// The returned function detaches the router from the connection.
func Bind(conn *room.Connection) (*Router, func()) {
	r := NewRouter(conn.Identity())
	seed := func(roster []room.Participant) {
		for _, p := range roster {
			r.ParticipantJoined(p.Identity)
		}
	}
	stop := conn.ObserveSeeded(seed, func(u room.Update) {
		switch u.Kind {
		case room.UpdateParticipantJoined:
			r.ParticipantJoined(u.Participant.Identity)
		case room.UpdateParticipantLeft:
			r.ParticipantLeft(u.Participant.Identity)
		case room.UpdateStateChanged:
			if u.State == room.StateDisconnected {
				r.Reset()
			}
		}
	})
	return r, stop
}
