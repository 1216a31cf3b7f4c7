package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/aura-live/backend/internal/auth"
	"github.com/aura-live/backend/internal/liveerr"
	"github.com/aura-live/backend/internal/models"
	"github.com/aura-live/backend/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 65536
	sendBuffer     = 256
)

// TokenVerifier validates room access tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.RoomClaims, error)
}

// SessionLookup loads the session a socket wants to join.
type SessionLookup interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// Client represents a single WebSocket connection in a session room.
type Client struct {
	ID          string
	SessionID   uuid.UUID
	UserID      uuid.UUID
	Identity    string
	DisplayName string
	Role        string
	JoinedAt    time.Time
	hub         *Hub
	sfu         *SFU
	conn        *websocket.Conn
	send        chan WSMessage
	closeOnce   sync.Once
	done        chan struct{}
	logger      *zap.Logger
}

func newClient(hub *Hub, sfu *SFU, conn *websocket.Conn, claims *auth.RoomClaims, userID uuid.UUID, logger *zap.Logger) *Client {
	return &Client{
		ID:          uuid.New().String(),
		SessionID:   claims.SessionID,
		UserID:      userID,
		Identity:    userID.String(),
		DisplayName: claims.DisplayName,
		Role:        claims.Role,
		JoinedAt:    time.Now(),
		hub:         hub,
		sfu:         sfu,
		conn:        conn,
		send:        make(chan WSMessage, sendBuffer),
		done:        make(chan struct{}),
		logger:      logger.With(zap.String("session_id", claims.SessionID.String()), zap.String("user_id", userID.String())),
	}
}

// enqueue drops the message when the client's buffer is full or it has gone away.
func (c *Client) enqueue(msg WSMessage) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		c.logger.Debug("send buffer full, dropping", zap.String("event", msg.Event))
	}
}

func (c *Client) stop() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ServeWs handles the WebSocket upgrade and runs the client loop. The socket
// is authorized by a room token for the session's current room.
func ServeWs(hub *Hub, sfu *SFU, tokens TokenVerifier, sessions SessionLookup, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		sessionIDStr := c.Query("session_id")
		token := c.Query("token")
		if sessionIDStr == "" || token == "" {
			response.BadRequest(c, "session_id and token required")
			return
		}
		sessionID, err := uuid.Parse(sessionIDStr)
		if err != nil {
			response.BadRequest(c, "invalid session_id")
			return
		}
		claims, err := tokens.Verify(token)
		if err != nil {
			response.Unauthorized(c, err.Error())
			return
		}
		userID, _ := claims.UserID()
		if claims.SessionID != sessionID {
			response.Unauthorized(c, "token not valid for this session")
			return
		}
		session, err := sessions.GetSession(c.Request.Context(), sessionID)
		if err != nil {
			if errors.Is(err, liveerr.ErrNotFound) {
				response.NotFound(c, "session not found")
				return
			}
			liveerr.Write(c, err)
			return
		}
		if session.RoomName == "" || session.StreamStatus == models.StreamStatusEnded {
			response.Fail(c, http.StatusGone, liveerr.ErrRoomUnavailable.Error())
			return
		}
		if session.RoomName != claims.Room || !session.CanJoin(userID) {
			response.Unauthorized(c, "token not valid for this room")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := newClient(hub, sfu, conn, claims, userID, logger)
		first := hub.Register(client)
		hub.SendToClient(sessionID, client.ID, EventConnected, ConnectedPayload{
			Identity:     client.Identity,
			Room:         session.RoomName,
			Participants: hub.Participants(sessionID),
			Tracks:       client.tracks(),
		})
		if first {
			hub.Publish(sessionID, EventParticipantJoined, ParticipantPayload{
				Identity:    client.Identity,
				DisplayName: client.DisplayName,
				Role:        client.Role,
			})
		}
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) tracks() []TrackPayload {
	if c.sfu == nil {
		return []TrackPayload{}
	}
	out := c.sfu.Tracks(c.SessionID)
	if out == nil {
		out = []TrackPayload{}
	}
	return out
}

func (c *Client) readPump() {
	defer func() {
		if c.sfu != nil {
			c.sfu.UnregisterClient(c.SessionID, c.ID)
		}
		c.hub.Unregister(c)
		c.stop()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		if msg.Event == EventLeave {
			return
		}
		if err := c.handle(msg); err != nil {
			c.logger.Warn("signaling failed", zap.String("event", msg.Event), zap.Error(err))
			c.hub.SendToClient(c.SessionID, c.ID, EventError, ErrorPayload{Message: err.Error()})
		}
	}
}

func (c *Client) signal(event string, payload interface{}) {
	c.hub.SendToClient(c.SessionID, c.ID, event, payload)
}

func (c *Client) handle(msg WSMessage) error {
	switch msg.Event {
	case EventSpeaking:
		var p SpeakingPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return err
		}
		c.hub.SetSpeaking(c, p.Speaking)
	case EventPublisherOffer:
		if c.sfu == nil {
			return nil
		}
		var p SDPPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.SDP == "" {
			return errors.New("invalid publisher offer")
		}
		sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}
		return c.sfu.HandlePublisherOffer(c.SessionID, c.ID, c.Identity, sdp, c.signal)
	case EventSubscribe:
		if c.sfu == nil {
			return nil
		}
		return c.sfu.HandleSubscribe(c.SessionID, c.ID, c.Identity, c.signal)
	case EventSubscriberAnswer:
		if c.sfu == nil {
			return nil
		}
		var p SDPPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.SDP == "" {
			return errors.New("invalid subscriber answer")
		}
		sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}
		return c.sfu.HandleSubscriberAnswer(c.SessionID, c.ID, sdp)
	case EventICE:
		if c.sfu == nil {
			return nil
		}
		var p ICEPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || len(p.Candidate) == 0 {
			return errors.New("invalid ice candidate")
		}
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(p.Candidate, &cand); err != nil {
			return err
		}
		return c.sfu.HandleICE(c.SessionID, c.ID, p.Target, cand)
	}
	return nil
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
			if msg.Event == EventRoomClosed {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "room closed"))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
