package realtime

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-live/backend/internal/telemetry"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// PresenceHandler is called when a user's first connection to a session opens
// (joined) or its last one closes.
type PresenceHandler func(sessionID, userID uuid.UUID, joined bool, at time.Time)

// Hub maintains session_id -> set of connections and broadcasts messages.
// Uses Redis pub/sub for horizontal scaling: events are published to Redis and
// every instance (this one included) delivers them to its local clients.
type Hub struct {
	// sessionID -> map[clientID]*Client
	sessions map[uuid.UUID]map[string]*Client
	// sessionID -> identity -> open connections
	presence map[uuid.UUID]map[string]int
	speaking map[uuid.UUID]map[string]bool
	subs     map[uuid.UUID]func() // cancel Redis subscription per session
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
	onPres   PresenceHandler
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance broadcast).
type RedisPublisher interface {
	PublishSessionEvent(sessionID uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to session channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeSession(sessionID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. redisPub and redisSub may be nil for a
// single-instance deployment.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		sessions: make(map[uuid.UUID]map[string]*Client),
		presence: make(map[uuid.UUID]map[string]int),
		speaking: make(map[uuid.UUID]map[string]bool),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// SetPresenceHandler sets the callback for join/leave of users (e.g. attendance).
func (h *Hub) SetPresenceHandler(fn PresenceHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onPres = fn
}

// Register adds a client to a session room and reports whether it is the
// identity's first connection. Starts the Redis subscription for this session
// if first client.
func (h *Hub) Register(c *Client) bool {
	h.mu.Lock()
	if h.sessions[c.SessionID] == nil {
		h.sessions[c.SessionID] = make(map[string]*Client)
		h.presence[c.SessionID] = make(map[string]int)
		if h.redisSub != nil {
			sessionID := c.SessionID
			cancel, err := h.redisSub.SubscribeSession(sessionID, func(event string, payload []byte) {
				h.Broadcast(sessionID, event, json.RawMessage(payload))
			})
			if err != nil {
				h.logger.Warn("redis subscribe failed", zap.String("session_id", sessionID.String()), zap.Error(err))
			} else {
				h.subs[sessionID] = cancel
			}
		}
	}
	h.sessions[c.SessionID][c.ID] = c
	h.presence[c.SessionID][c.Identity]++
	first := h.presence[c.SessionID][c.Identity] == 1
	onPres := h.onPres
	h.mu.Unlock()

	telemetry.ClientConnected(c.Role)
	if first && onPres != nil {
		onPres(c.SessionID, c.UserID, true, c.JoinedAt)
	}
	h.logger.Debug("client joined session", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID.String()), zap.String("user_id", c.Identity))
	return first
}

// Unregister removes a client from a session room and reports whether it was
// the identity's last connection. Cancels the Redis subscription when the last
// client leaves.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	m, ok := h.sessions[c.SessionID]
	if !ok {
		h.mu.Unlock()
		return false
	}
	if _, ok := m[c.ID]; !ok {
		h.mu.Unlock()
		return false
	}
	delete(m, c.ID)
	pres := h.presence[c.SessionID]
	pres[c.Identity]--
	last := pres[c.Identity] <= 0
	if last {
		delete(pres, c.Identity)
	}
	var speakersChanged bool
	if last && h.speaking[c.SessionID][c.Identity] {
		delete(h.speaking[c.SessionID], c.Identity)
		speakersChanged = true
	}
	if len(m) == 0 {
		delete(h.sessions, c.SessionID)
		delete(h.presence, c.SessionID)
		delete(h.speaking, c.SessionID)
		if cancel, ok := h.subs[c.SessionID]; ok {
			cancel()
			delete(h.subs, c.SessionID)
		}
	}
	onPres := h.onPres
	h.mu.Unlock()

	telemetry.ClientDisconnected(c.Role)
	if last {
		h.Publish(c.SessionID, EventParticipantLeft, ParticipantPayload{Identity: c.Identity, DisplayName: c.DisplayName, Role: c.Role})
		if onPres != nil {
			onPres(c.SessionID, c.UserID, false, time.Now())
		}
	}
	if speakersChanged {
		h.Publish(c.SessionID, EventActiveSpeakers, SpeakersPayload{Identities: h.Speakers(c.SessionID)})
	}
	h.logger.Debug("client left session", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID.String()), zap.String("user_id", c.Identity))
	return last
}

// Participants returns one entry per identity connected to this instance,
// sorted by identity.
func (h *Hub) Participants(sessionID uuid.UUID) []ParticipantPayload {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[string]bool)
	out := make([]ParticipantPayload, 0, len(h.presence[sessionID]))
	for _, c := range h.sessions[sessionID] {
		if seen[c.Identity] {
			continue
		}
		seen[c.Identity] = true
		out = append(out, ParticipantPayload{Identity: c.Identity, DisplayName: c.DisplayName, Role: c.Role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// SetSpeaking records a client's speaking state and announces the active
// speakers when the set changes.
func (h *Hub) SetSpeaking(c *Client, speaking bool) {
	h.mu.Lock()
	if _, ok := h.sessions[c.SessionID][c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	set := h.speaking[c.SessionID]
	if set == nil {
		set = make(map[string]bool)
		h.speaking[c.SessionID] = set
	}
	if set[c.Identity] == speaking {
		h.mu.Unlock()
		return
	}
	if speaking {
		set[c.Identity] = true
	} else {
		delete(set, c.Identity)
	}
	h.mu.Unlock()
	h.Publish(c.SessionID, EventActiveSpeakers, SpeakersPayload{Identities: h.Speakers(c.SessionID)})
}

// Speakers lists the identities currently speaking, sorted.
func (h *Hub) Speakers(sessionID uuid.UUID) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.speaking[sessionID]))
	for id := range h.speaking[sessionID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Broadcast sends a message to all clients in a session (local only).
func (h *Hub) Broadcast(sessionID uuid.UUID, event string, payload interface{}) {
	msg, err := Encode(event, payload)
	if err != nil {
		h.logger.Warn("encode broadcast", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.sessions[sessionID]))
	for _, c := range h.sessions[sessionID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(msg)
	}
}

// Publish delivers an event to every instance. With Redis the subscriber
// callback performs the local broadcast, so local clients receive it once.
func (h *Hub) Publish(sessionID uuid.UUID, event string, payload interface{}) {
	if h.redis == nil {
		h.Broadcast(sessionID, event, payload)
		return
	}
	msg, err := Encode(event, payload)
	if err != nil {
		h.logger.Warn("encode publish", zap.String("event", event), zap.Error(err))
		return
	}
	if err := h.redis.PublishSessionEvent(sessionID, event, msg.Data); err != nil {
		h.logger.Warn("redis publish failed, broadcasting locally", zap.String("session_id", sessionID.String()), zap.Error(err))
		h.Broadcast(sessionID, event, payload)
	}
}

// CloseSession tells every client in the session that the room is closed.
// Clients disconnect after receiving it.
func (h *Hub) CloseSession(sessionID uuid.UUID) {
	h.Publish(sessionID, EventRoomClosed, nil)
}

// ClientCount returns the number of connected clients in a session.
func (h *Hub) ClientCount(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// SendToClient sends a message to a single client in a session (for WebRTC signaling).
func (h *Hub) SendToClient(sessionID uuid.UUID, clientID string, event string, payload interface{}) {
	msg, err := Encode(event, payload)
	if err != nil {
		return
	}
	h.mu.RLock()
	c, ok := h.sessions[sessionID][clientID]
	h.mu.RUnlock()
	if !ok || c == nil {
		return
	}
	c.enqueue(msg)
}

// AnnounceTrack publishes an SFU track event to the session.
func (h *Hub) AnnounceTrack(ev TrackEvent) {
	event := EventTrackUnpublished
	if ev.Published {
		event = EventTrackPublished
	}
	h.Publish(ev.SessionID, event, ev.Track)
}
