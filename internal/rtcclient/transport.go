// Package rtcclient is a room.Transport that speaks the realtime server's
// websocket signaling and carries media over pion WebRTC.
package rtcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/aura-live/backend/internal/liveerr"
	"github.com/aura-live/backend/internal/realtime"
	"github.com/aura-live/backend/internal/room"
)

const (
	writeWait   = 10 * time.Second
	eventBuffer = 128
)

// Media names the files played as local devices. An empty path means the
// device is absent.
type Media struct {
	Camera      string // IVF (VP8/VP9)
	Microphone  string // Ogg Opus
	ScreenShare string // IVF
}

// Options configures a Transport.
type Options struct {
	Media      Media
	ICEServers []string
	Dialer     *websocket.Dialer
	// OnRemoteTrack, when set, takes over reading every remote track the
	// server sends; it runs on its own goroutine per track.
	OnRemoteTrack func(identity string, track *webrtc.TrackRemote)
}

// link is one websocket session. A reconnect creates a new link.
type link struct {
	ws      *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	writeMu sync.Mutex
	closing atomic.Bool
}

func (l *link) send(event string, payload interface{}) error {
	msg, err := realtime.Encode(event, payload)
	if err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return l.ws.WriteJSON(msg)
}

// Transport implements room.Transport.
type Transport struct {
	opts   Options
	log    *zap.Logger
	api    *webrtc.API
	cfg    webrtc.Configuration
	events chan room.Event

	mu       sync.Mutex
	link     *link
	identity string
	pub      *publisher
	sub      *subscriber
	attached map[string]*remoteTrack
}

var _ room.Transport = (*Transport)(nil)

// New creates a Transport.
func New(opts Options, log *zap.Logger) (*Transport, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	servers := make([]webrtc.ICEServer, 0, len(opts.ICEServers))
	for _, u := range opts.ICEServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	return &Transport{
		opts:   opts,
		log:    log,
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		cfg:    webrtc.Configuration{ICEServers: servers},
		events: make(chan room.Event, eventBuffer),
	}, nil
}

// Factory returns a room.TransportFactory building Transports with opts.
// Construction errors surface as a failed first Connect.
func Factory(opts Options, log *zap.Logger) room.TransportFactory {
	return func() room.Transport {
		t, err := New(opts, log)
		if err != nil {
			return &broken{err: err, events: make(chan room.Event)}
		}
		return t
	}
}

func (t *Transport) Events() <-chan room.Event { return t.events }

// Identity is the local identity assigned by the server, empty until connected.
func (t *Transport) Identity() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.identity
}

func (t *Transport) emit(l *link, ev room.Event) {
	select {
	case t.events <- ev:
	case <-l.ctx.Done():
	}
}

func roomURL(address, token string) (string, error) {
	u, err := url.Parse(address)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("room address %q: %w", address, liveerr.ErrInvalidInput)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials the room. Success is reported by EventConnected once the
// server's welcome arrives.
func (t *Transport) Connect(ctx context.Context, address, token string) error {
	target, err := roomURL(address, token)
	if err != nil {
		return err
	}
	ws, resp, err := t.opts.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		return dialError(err, resp)
	}

	lctx, cancel := context.WithCancel(context.Background())
	l := &link{ws: ws, ctx: lctx, cancel: cancel}

	t.mu.Lock()
	old := t.link
	t.link = l
	t.mu.Unlock()
	if old != nil {
		t.closeLink(old)
	}

	go t.readLoop(l)
	return nil
}

// Disconnect leaves the room. It never emits EventDisconnected.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	l := t.link
	t.link = nil
	t.mu.Unlock()
	if l == nil {
		return nil
	}
	l.closing.Store(true)
	_ = l.send(realtime.EventLeave, nil)
	return t.closeLink(l)
}

func (t *Transport) closeLink(l *link) error {
	l.closing.Store(true)
	l.cancel()
	t.resetMedia()
	l.writeMu.Lock()
	_ = l.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	l.writeMu.Unlock()
	return l.ws.Close()
}

// current returns the active link or ErrNotConnected.
func (t *Transport) current() (*link, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.link == nil {
		return nil, liveerr.ErrNotConnected
	}
	return t.link, nil
}

func (t *Transport) readLoop(l *link) {
	cause := liveerr.ErrNetworkUnreachable
	for {
		var msg realtime.WSMessage
		if err := l.ws.ReadJSON(&msg); err != nil {
			if !l.closing.Load() {
				t.log.Warn("room signaling lost", zap.Error(err))
			}
			break
		}
		if msg.Event == realtime.EventRoomClosed {
			cause = liveerr.ErrRoomUnavailable
			break
		}
		if err := t.dispatch(l, msg); err != nil {
			t.log.Warn("room message", zap.String("event", msg.Event), zap.Error(err))
		}
	}
	if l.closing.Load() {
		return
	}
	t.mu.Lock()
	if t.link == l {
		t.link = nil
	}
	t.mu.Unlock()
	_ = t.closeLink(l)
	// closeLink cancelled l.ctx; deliver the disconnect on a fresh deadline.
	select {
	case t.events <- room.Event{Kind: room.EventDisconnected, Err: cause}:
	case <-time.After(writeWait):
		t.log.Warn("disconnect event not consumed")
	}
}

func (t *Transport) dispatch(l *link, msg realtime.WSMessage) error {
	switch msg.Event {
	case realtime.EventConnected:
		var p realtime.ConnectedPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return err
		}
		t.mu.Lock()
		t.identity = p.Identity
		t.mu.Unlock()
		t.emit(l, room.Event{Kind: room.EventConnected, Identity: p.Identity})
		ids := make([]string, 0, len(p.Participants))
		for _, pp := range p.Participants {
			ids = append(ids, pp.Identity)
		}
		t.emit(l, room.Event{Kind: room.EventRosterSync, Identities: ids})
		for _, tr := range p.Tracks {
			t.emit(l, room.Event{Kind: room.EventTrackPublished, Identity: tr.Identity, Track: trackInfo(tr)})
		}
		return l.send(realtime.EventSubscribe, nil)
	case realtime.EventParticipantJoined, realtime.EventParticipantLeft:
		var p realtime.ParticipantPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return err
		}
		kind := room.EventParticipantJoined
		if msg.Event == realtime.EventParticipantLeft {
			kind = room.EventParticipantLeft
		}
		t.emit(l, room.Event{Kind: kind, Identity: p.Identity})
	case realtime.EventTrackPublished, realtime.EventTrackUnpublished:
		var p realtime.TrackPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return err
		}
		kind := room.EventTrackPublished
		if msg.Event == realtime.EventTrackUnpublished {
			kind = room.EventTrackUnpublished
		}
		t.emit(l, room.Event{Kind: kind, Identity: p.Identity, Track: trackInfo(p)})
	case realtime.EventActiveSpeakers:
		var p realtime.SpeakersPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return err
		}
		t.emit(l, room.Event{Kind: room.EventActiveSpeakers, Identities: p.Identities})
	case realtime.EventPublisherAnswer:
		var p realtime.SDPPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return err
		}
		return t.onPublisherAnswer(l, p.SDP)
	case realtime.EventSubscriberOffer:
		var p realtime.SDPPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return err
		}
		return t.onSubscriberOffer(l, p.SDP)
	case realtime.EventICE:
		var p realtime.ICEPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return err
		}
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(p.Candidate, &cand); err != nil {
			return err
		}
		return t.onRemoteCandidate(p.Target, cand)
	case realtime.EventError:
		var p realtime.ErrorPayload
		_ = json.Unmarshal(msg.Data, &p)
		t.log.Warn("room reported error", zap.String("message", p.Message))
	}
	return nil
}

func trackInfo(p realtime.TrackPayload) room.TrackInfo {
	return room.TrackInfo{SID: p.SID, Kind: room.TrackKind(p.Kind), Source: room.TrackSource(p.Source)}
}

// SetSpeaking reports the local speaking state to the room.
func (t *Transport) SetSpeaking(speaking bool) error {
	l, err := t.current()
	if err != nil {
		return err
	}
	return l.send(realtime.EventSpeaking, realtime.SpeakingPayload{Speaking: speaking})
}

// resetMedia drops both peer connections. Local sources stop; a reconnect
// republishes through the room's media restore.
func (t *Transport) resetMedia() {
	t.mu.Lock()
	pub, sub := t.pub, t.sub
	t.pub, t.sub = nil, nil
	t.mu.Unlock()
	if pub != nil {
		pub.close(t.log)
	}
	if sub != nil {
		sub.close(t.log)
	}
}

// setLocalComplete sets the local description and waits for ICE gathering,
// so the description sent to the server carries every local candidate.
func setLocalComplete(pc *webrtc.PeerConnection, desc webrtc.SessionDescription) error {
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return err
	}
	<-gathered
	return nil
}

func (t *Transport) onRemoteCandidate(target string, cand webrtc.ICECandidateInit) error {
	t.mu.Lock()
	var n *negotiator
	switch target {
	case realtime.TargetPublisher:
		if t.pub != nil {
			n = &t.pub.negotiator
		}
	case realtime.TargetSubscriber:
		if t.sub != nil {
			n = &t.sub.negotiator
		}
	}
	t.mu.Unlock()
	if n == nil {
		return nil
	}
	return n.addCandidate(cand)
}

// negotiator buffers remote candidates until the remote description is set.
type negotiator struct {
	pc        *webrtc.PeerConnection
	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

func (n *negotiator) addCandidate(c webrtc.ICECandidateInit) error {
	n.mu.Lock()
	if !n.remoteSet {
		n.pending = append(n.pending, c)
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()
	return n.pc.AddICECandidate(c)
}

func (n *negotiator) setRemote(desc webrtc.SessionDescription) error {
	if err := n.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	n.mu.Lock()
	n.remoteSet = true
	pending := n.pending
	n.pending = nil
	n.mu.Unlock()
	for _, c := range pending {
		if err := n.pc.AddICECandidate(c); err != nil {
			return err
		}
	}
	return nil
}

// broken is returned by Factory when the WebRTC stack cannot be built.
type broken struct {
	err    error
	events chan room.Event
}

func (b *broken) Connect(context.Context, string, string) error { return b.err }
func (b *broken) Disconnect() error                             { return nil }
func (b *broken) Events() <-chan room.Event                     { return b.events }
func (b *broken) EnableCamera(context.Context, bool) error      { return b.err }
func (b *broken) EnableMicrophone(context.Context, bool) error  { return b.err }
func (b *broken) EnableScreenShare(context.Context, bool) error { return b.err }
func (b *broken) Subscribe(string, room.TrackInfo) (room.RemoteTrack, error) {
	return nil, b.err
}
