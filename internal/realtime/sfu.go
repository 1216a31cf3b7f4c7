package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// RTP buffer size (MTU-friendly). Used with sync.Pool to avoid per-packet allocs.
const rtpBufferSize = 1500

// Keyframe request interval for every published video track.
const pliInterval = 3 * time.Second

var rtpBufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, rtpBufferSize)
		return &b
	},
}

// RecordingSink receives a copy of RTP packets for recording (e.g. to ffmpeg).
// WriteRTP is called from the relay goroutine; implementation must be non-blocking.
type RecordingSink interface {
	WriteRTP(track TrackInfo, packet []byte)
}

// TrackEvent reports a published or unpublished track.
type TrackEvent struct {
	SessionID uuid.UUID
	Published bool
	Track     TrackPayload
}

// Signal sends a signaling message to one client.
type Signal func(event string, payload interface{})

// SFU forwards every publisher's tracks to every other participant of the
// same session. Each client may hold one publisher and one subscriber peer.
type SFU struct {
	rooms   map[uuid.UUID]*sfuRoom
	mu      sync.RWMutex
	log     *zap.Logger
	cfg     webrtc.Configuration
	onTrack func(TrackEvent)
}

type sfuRoom struct {
	sessionID     uuid.UUID
	publishers    map[string]*publisherPeer
	subscribers   map[string]*subscriberPeer
	recordingSink RecordingSink
	sinkIdentity  string
	mu            sync.RWMutex
	log           *zap.Logger
	sfu           *SFU
}

type publisherPeer struct {
	clientID string
	identity string
	pc       *webrtc.PeerConnection
	tracks   map[string]*relayTrack
	done     chan struct{}
}

type relayTrack struct {
	sid      string
	identity string
	source   string
	remote   *webrtc.TrackRemote
	room     *sfuRoom
	mu       sync.Mutex
	locals   map[string]*webrtc.TrackLocalStaticRTP
}

type subscriberPeer struct {
	clientID    string
	identity    string
	pc          *webrtc.PeerConnection
	senders     map[string]*webrtc.RTPSender
	send        Signal
	negotiating bool
	pending     bool
}

// NewSFU creates an SFU with the given ICE (STUN/TURN) server URLs.
func NewSFU(log *zap.Logger, iceURLs []string) *SFU {
	if log == nil {
		log = zap.NewNop()
	}
	return &SFU{
		rooms: make(map[uuid.UUID]*sfuRoom),
		log:   log,
		cfg:   webrtc.Configuration{ICEServers: parseICEServers(iceURLs)},
	}
}

// OnTrack registers the handler for track publish/unpublish events.
func (s *SFU) OnTrack(fn func(TrackEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTrack = fn
}

func (s *SFU) emit(ev TrackEvent) {
	s.mu.RLock()
	fn := s.onTrack
	s.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

func (s *SFU) getOrCreateRoom(sessionID uuid.UUID) *sfuRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[sessionID]; ok {
		return r
	}
	r := &sfuRoom{
		sessionID:   sessionID,
		publishers:  make(map[string]*publisherPeer),
		subscribers: make(map[string]*subscriberPeer),
		log:         s.log.With(zap.String("session_id", sessionID.String())),
		sfu:         s,
	}
	s.rooms[sessionID] = r
	return r
}

func (s *SFU) getRoom(sessionID uuid.UUID) *sfuRoom {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[sessionID]
}

func (s *SFU) newPeerConnection() (*webrtc.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	return api.NewPeerConnection(s.cfg)
}

func trickle(send Signal, target string) func(*webrtc.ICECandidate) {
	return func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		b, _ := json.Marshal(c.ToJSON())
		send(EventICE, ICEPayload{Target: target, Candidate: b})
	}
}

// HandlePublisherOffer answers a client's publisher offer. A second offer
// from the same client renegotiates its existing peer connection.
func (s *SFU) HandlePublisherOffer(sessionID uuid.UUID, clientID, identity string, sdp webrtc.SessionDescription, send Signal) error {
	r := s.getOrCreateRoom(sessionID)

	r.mu.Lock()
	pub, ok := r.publishers[clientID]
	if !ok {
		pc, err := s.newPeerConnection()
		if err != nil {
			r.mu.Unlock()
			return err
		}
		pub = &publisherPeer{
			clientID: clientID,
			identity: identity,
			pc:       pc,
			tracks:   make(map[string]*relayTrack),
			done:     make(chan struct{}),
		}
		pc.OnICECandidate(trickle(send, TargetPublisher))
		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			r.addTrack(pub, track)
		})
		r.publishers[clientID] = pub
	}
	r.mu.Unlock()

	pc := pub.pc
	if err := pc.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("publisher remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("publisher answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("publisher local description: %w", err)
	}
	send(EventPublisherAnswer, SDPPayload{Type: answer.Type.String(), SDP: answer.SDP})
	return nil
}

// trackSource derives the device a track came from out of the publisher's track id.
func trackSource(kind webrtc.RTPCodecType, id string) string {
	switch {
	case strings.HasPrefix(id, "screen_share"):
		return "screen_share"
	case kind == webrtc.RTPCodecTypeAudio:
		return "microphone"
	default:
		return "camera"
	}
}

func (r *sfuRoom) addTrack(pub *publisherPeer, track *webrtc.TrackRemote) {
	relay := &relayTrack{
		sid:      pub.identity + "/" + track.ID(),
		identity: pub.identity,
		source:   trackSource(track.Kind(), track.ID()),
		remote:   track,
		room:     r,
		locals:   make(map[string]*webrtc.TrackLocalStaticRTP),
	}

	r.mu.Lock()
	pub.tracks[relay.sid] = relay
	var subs []*subscriberPeer
	for _, sub := range r.subscribers {
		if sub.identity != relay.identity {
			subs = append(subs, sub)
		}
	}
	r.mu.Unlock()

	r.log.Info("track published", zap.String("identity", relay.identity), zap.String("sid", relay.sid), zap.String("kind", track.Kind().String()))
	for _, sub := range subs {
		r.attach(sub, relay)
		r.renegotiate(sub)
	}
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go requestKeyframes(pub, track)
	}
	r.sfu.emit(TrackEvent{SessionID: r.sessionID, Published: true, Track: relay.payload()})

	relay.readAndForward()

	r.removeTrack(pub, relay)
}

func requestKeyframes(pub *publisherPeer, track *webrtc.TrackRemote) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-pub.done:
			return
		case <-ticker.C:
			if err := pub.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}); err != nil {
				return
			}
		}
	}
}

func (rt *relayTrack) payload() TrackPayload {
	return TrackPayload{Identity: rt.identity, SID: rt.sid, Kind: rt.remote.Kind().String(), Source: rt.source}
}

func (rt *relayTrack) info() TrackInfo {
	c := rt.remote.Codec()
	return TrackInfo{
		SID:       rt.sid,
		Identity:  rt.identity,
		Source:    rt.source,
		Kind:      rt.remote.Kind(),
		MimeType:  c.MimeType,
		ClockRate: c.ClockRate,
	}
}

func (rt *relayTrack) readAndForward() {
	info := rt.info()
	for {
		// Reuse buffer from pool to avoid per-packet allocs and bound memory.
		ptr := rtpBufferPool.Get().(*[]byte)
		buf := *ptr
		n, _, err := rt.remote.Read(buf)
		if err != nil {
			rtpBufferPool.Put(ptr)
			return
		}
		// Copy subscribers under lock, then write without holding it so one
		// slow subscriber doesn't block others.
		rt.mu.Lock()
		locals := make([]*webrtc.TrackLocalStaticRTP, 0, len(rt.locals))
		for _, l := range rt.locals {
			locals = append(locals, l)
		}
		rt.mu.Unlock()
		for _, local := range locals {
			_, _ = local.Write(buf[:n])
		}
		rt.room.mu.RLock()
		sink, sinkIdentity := rt.room.recordingSink, rt.room.sinkIdentity
		rt.room.mu.RUnlock()
		if sink != nil && sinkIdentity == rt.identity {
			// The sink may keep the packet; hand it a copy rather than the pooled buffer.
			packetCopy := make([]byte, n)
			copy(packetCopy, buf[:n])
			sink.WriteRTP(info, packetCopy)
		}
		rtpBufferPool.Put(ptr)
	}
}

// attach adds relay to the subscriber's peer connection, creating it on first use.
func (r *sfuRoom) attach(sub *subscriberPeer, relay *relayTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := sub.senders[relay.sid]; ok {
		return
	}
	if sub.pc == nil {
		pc, err := r.sfu.newPeerConnection()
		if err != nil {
			r.log.Warn("subscriber peer connection", zap.String("client_id", sub.clientID), zap.Error(err))
			return
		}
		pc.OnICECandidate(trickle(sub.send, TargetSubscriber))
		sub.pc = pc
	}
	local, err := webrtc.NewTrackLocalStaticRTP(relay.remote.Codec().RTPCodecCapability, relay.sid, relay.identity)
	if err != nil {
		r.log.Warn("local track", zap.String("sid", relay.sid), zap.Error(err))
		return
	}
	sender, err := sub.pc.AddTrack(local)
	if err != nil {
		r.log.Warn("add track to subscriber", zap.String("client_id", sub.clientID), zap.Error(err))
		return
	}
	go drainRTCP(sender)
	sub.senders[relay.sid] = sender
	relay.mu.Lock()
	relay.locals[sub.clientID] = local
	relay.mu.Unlock()
}

// drainRTCP reads incoming RTCP so interceptors (NACK etc.) keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, rtpBufferSize)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (r *sfuRoom) removeTrack(pub *publisherPeer, relay *relayTrack) {
	r.mu.Lock()
	delete(pub.tracks, relay.sid)
	var changed []*subscriberPeer
	for _, sub := range r.subscribers {
		sender, ok := sub.senders[relay.sid]
		if !ok {
			continue
		}
		delete(sub.senders, relay.sid)
		if sub.pc != nil {
			if err := sub.pc.RemoveTrack(sender); err != nil {
				r.log.Debug("remove track from subscriber", zap.String("client_id", sub.clientID), zap.Error(err))
			}
		}
		changed = append(changed, sub)
	}
	r.mu.Unlock()

	relay.mu.Lock()
	relay.locals = map[string]*webrtc.TrackLocalStaticRTP{}
	relay.mu.Unlock()

	r.log.Info("track unpublished", zap.String("identity", relay.identity), zap.String("sid", relay.sid))
	for _, sub := range changed {
		r.renegotiate(sub)
	}
	r.sfu.emit(TrackEvent{SessionID: r.sessionID, Published: false, Track: relay.payload()})
}

// renegotiate sends a fresh subscriber offer, or queues one while an earlier
// offer is still unanswered.
func (r *sfuRoom) renegotiate(sub *subscriberPeer) {
	r.mu.Lock()
	if sub.pc == nil {
		r.mu.Unlock()
		return
	}
	if sub.negotiating {
		sub.pending = true
		r.mu.Unlock()
		return
	}
	sub.negotiating = true
	sub.pending = false
	pc := sub.pc
	r.mu.Unlock()

	offer, err := pc.CreateOffer(nil)
	if err == nil {
		err = pc.SetLocalDescription(offer)
	}
	if err != nil {
		r.log.Warn("subscriber offer", zap.String("client_id", sub.clientID), zap.Error(err))
		r.mu.Lock()
		sub.negotiating = false
		r.mu.Unlock()
		return
	}
	sub.send(EventSubscriberOffer, SDPPayload{Type: offer.Type.String(), SDP: offer.SDP})
}

// HandleSubscribe registers the client as a subscriber and offers it every
// track published by other participants. Tracks published later are added
// through renegotiation.
func (s *SFU) HandleSubscribe(sessionID uuid.UUID, clientID, identity string, send Signal) error {
	r := s.getOrCreateRoom(sessionID)
	r.mu.Lock()
	sub, ok := r.subscribers[clientID]
	if !ok {
		sub = &subscriberPeer{
			clientID: clientID,
			identity: identity,
			senders:  make(map[string]*webrtc.RTPSender),
			send:     send,
		}
		r.subscribers[clientID] = sub
	}
	var relays []*relayTrack
	for _, pub := range r.publishers {
		if pub.identity == identity {
			continue
		}
		for _, relay := range pub.tracks {
			relays = append(relays, relay)
		}
	}
	r.mu.Unlock()

	for _, relay := range relays {
		r.attach(sub, relay)
	}
	r.renegotiate(sub)
	return nil
}

// HandleSubscriberAnswer completes a subscriber negotiation.
func (s *SFU) HandleSubscriberAnswer(sessionID uuid.UUID, clientID string, sdp webrtc.SessionDescription) error {
	r := s.getRoom(sessionID)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	sub, ok := r.subscribers[clientID]
	r.mu.Unlock()
	if !ok || sub.pc == nil {
		return nil
	}
	err := sub.pc.SetRemoteDescription(sdp)
	r.mu.Lock()
	sub.negotiating = false
	again := sub.pending
	r.mu.Unlock()
	if again {
		r.renegotiate(sub)
	}
	return err
}

// HandleICE adds a trickled candidate to the client's publisher or subscriber peer.
func (s *SFU) HandleICE(sessionID uuid.UUID, clientID, target string, candidate webrtc.ICECandidateInit) error {
	r := s.getRoom(sessionID)
	if r == nil {
		return nil
	}
	r.mu.RLock()
	var pc *webrtc.PeerConnection
	switch target {
	case TargetPublisher:
		if pub, ok := r.publishers[clientID]; ok {
			pc = pub.pc
		}
	case TargetSubscriber:
		if sub, ok := r.subscribers[clientID]; ok {
			pc = sub.pc
		}
	}
	r.mu.RUnlock()
	if pc == nil {
		return nil
	}
	return pc.AddICECandidate(candidate)
}

// UnregisterClient closes the client's peers. Its published tracks end and
// are unpublished from every subscriber.
func (s *SFU) UnregisterClient(sessionID uuid.UUID, clientID string) {
	r := s.getRoom(sessionID)
	if r == nil {
		return
	}
	r.mu.Lock()
	pub := r.publishers[clientID]
	delete(r.publishers, clientID)
	sub := r.subscribers[clientID]
	delete(r.subscribers, clientID)
	var subs []*relayTrack
	if sub != nil {
		for _, p := range r.publishers {
			for _, relay := range p.tracks {
				subs = append(subs, relay)
			}
		}
	}
	empty := len(r.publishers) == 0 && len(r.subscribers) == 0
	r.mu.Unlock()

	for _, relay := range subs {
		relay.mu.Lock()
		delete(relay.locals, clientID)
		relay.mu.Unlock()
	}
	if pub != nil {
		close(pub.done)
		if err := pub.pc.Close(); err != nil {
			r.log.Debug("close publisher", zap.String("client_id", clientID), zap.Error(err))
		}
	}
	if sub != nil && sub.pc != nil {
		if err := sub.pc.Close(); err != nil {
			r.log.Debug("close subscriber", zap.String("client_id", clientID), zap.Error(err))
		}
	}
	if empty {
		s.mu.Lock()
		if cur, ok := s.rooms[sessionID]; ok && cur == r {
			r.mu.RLock()
			stillEmpty := len(r.publishers) == 0 && len(r.subscribers) == 0 && r.recordingSink == nil
			r.mu.RUnlock()
			if stillEmpty {
				delete(s.rooms, sessionID)
			}
		}
		s.mu.Unlock()
	}
}

// TrackInfo describes a published track (codec and origin), e.g. for recording SDP.
type TrackInfo struct {
	SID       string
	Identity  string
	Source    string
	Kind      webrtc.RTPCodecType
	MimeType  string
	ClockRate uint32
}

// Tracks lists the tracks currently published in the session's room.
func (s *SFU) Tracks(sessionID uuid.UUID) []TrackPayload {
	r := s.getRoom(sessionID)
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []TrackPayload
	for _, pub := range r.publishers {
		for _, relay := range pub.tracks {
			out = append(out, relay.payload())
		}
	}
	return out
}

// GetTrackInfo returns codec info for the tracks published by identity.
func (s *SFU) GetTrackInfo(sessionID uuid.UUID, identity string) []TrackInfo {
	r := s.getRoom(sessionID)
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []TrackInfo
	for _, pub := range r.publishers {
		if pub.identity != identity {
			continue
		}
		for _, relay := range pub.tracks {
			out = append(out, relay.info())
		}
	}
	return out
}

// RegisterRecordingSink taps identity's tracks in the session's room. Only one sink per room.
func (s *SFU) RegisterRecordingSink(sessionID uuid.UUID, identity string, sink RecordingSink) {
	r := s.getOrCreateRoom(sessionID)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordingSink = sink
	r.sinkIdentity = identity
}

// UnregisterRecordingSink removes the recording sink for the room.
func (s *SFU) UnregisterRecordingSink(sessionID uuid.UUID) {
	r := s.getRoom(sessionID)
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordingSink = nil
	r.sinkIdentity = ""
}

var defaultICE = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

func parseICEServers(urls []string) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, webrtc.ICEServer{URLs: []string{u}})
		}
	}
	if len(out) == 0 {
		return defaultICE
	}
	return out
}
