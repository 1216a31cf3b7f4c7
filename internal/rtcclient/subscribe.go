package rtcclient

import (
	"fmt"
	"sync/atomic"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/aura-live/backend/internal/realtime"
	"github.com/aura-live/backend/internal/room"
)

// subscriber is the receive-only peer connection the server offers remote tracks on.
type subscriber struct {
	negotiator
	link *link
}

// remoteTrack is an attachment for one subscribed track. Media that arrives
// for a track without an attachment is discarded.
type remoteTrack struct {
	sid      string
	identity string
	kind     room.TrackKind
	t        *Transport
	detached atomic.Bool
	packets  atomic.Uint64
}

func (r *remoteTrack) SID() string          { return r.sid }
func (r *remoteTrack) Kind() room.TrackKind { return r.kind }

// Packets is the number of RTP packets received while attached.
func (r *remoteTrack) Packets() uint64 { return r.packets.Load() }

func (r *remoteTrack) Detach() error {
	if !r.detached.CompareAndSwap(false, true) {
		return nil
	}
	r.t.mu.Lock()
	defer r.t.mu.Unlock()
	if r.t.attached[r.sid] == r {
		delete(r.t.attached, r.sid)
	}
	return nil
}

// Subscribe attaches a local sink for the remote track. The server forwards
// every published track; attaching decides whether its media is consumed.
func (t *Transport) Subscribe(identity string, info room.TrackInfo) (room.RemoteTrack, error) {
	if _, err := t.current(); err != nil {
		return nil, err
	}
	r := &remoteTrack{sid: info.SID, identity: identity, kind: info.Kind, t: t}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.attached == nil {
		t.attached = make(map[string]*remoteTrack)
	}
	t.attached[info.SID] = r
	return r, nil
}

func (t *Transport) attachment(sid string) *remoteTrack {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attached[sid]
}

func (t *Transport) ensureSubscriber(l *link) (*subscriber, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sub != nil {
		return t.sub, nil
	}
	pc, err := t.api.NewPeerConnection(t.cfg)
	if err != nil {
		return nil, fmt.Errorf("subscriber peer connection: %w", err)
	}
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go t.consume(track)
	})
	t.sub = &subscriber{negotiator: negotiator{pc: pc}, link: l}
	return t.sub, nil
}

// consume reads a remote track. The server names tracks by sid and streams by identity.
func (t *Transport) consume(track *webrtc.TrackRemote) {
	t.log.Debug("remote track arrived", zap.String("identity", track.StreamID()), zap.String("sid", track.ID()))
	if t.opts.OnRemoteTrack != nil {
		t.opts.OnRemoteTrack(track.StreamID(), track)
		return
	}
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
		if r := t.attachment(track.ID()); r != nil && !r.detached.Load() {
			r.packets.Add(1)
		}
	}
}

func (t *Transport) onSubscriberOffer(l *link, sdp string) error {
	sub, err := t.ensureSubscriber(l)
	if err != nil {
		return err
	}
	if err := sub.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return fmt.Errorf("subscriber offer: %w", err)
	}
	answer, err := sub.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("subscriber answer: %w", err)
	}
	if err := setLocalComplete(sub.pc, answer); err != nil {
		return fmt.Errorf("subscriber local description: %w", err)
	}
	local := sub.pc.LocalDescription()
	return l.send(realtime.EventSubscriberAnswer, realtime.SDPPayload{Type: local.Type.String(), SDP: local.SDP})
}

func (s *subscriber) close(log *zap.Logger) {
	if err := s.pc.Close(); err != nil {
		log.Debug("close subscriber", zap.Error(err))
	}
}
