package rtcclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"go.uber.org/zap"

	"github.com/aura-live/backend/internal/realtime"
	"github.com/aura-live/backend/internal/room"
)

const (
	oggPageDuration = 20 * time.Millisecond
	opusClockRate   = 48000
)

var errStopped = errors.New("source stopped")

// publisher is the send-only peer connection carrying local sources.
type publisher struct {
	negotiator
	link        *link
	mu          sync.Mutex
	sources     map[room.TrackSource]*source
	negotiating bool
	again       bool
}

// source is one local device being played into a track.
type source struct {
	sender *webrtc.RTPSender
	stop   chan struct{}
	done   chan struct{}
}

func (s *source) halt() {
	close(s.stop)
	<-s.done
}

func (t *Transport) EnableCamera(ctx context.Context, on bool) error {
	return t.enable(ctx, room.SourceCamera, t.opts.Media.Camera, on)
}

func (t *Transport) EnableMicrophone(ctx context.Context, on bool) error {
	return t.enable(ctx, room.SourceMicrophone, t.opts.Media.Microphone, on)
}

func (t *Transport) EnableScreenShare(ctx context.Context, on bool) error {
	return t.enable(ctx, room.SourceScreenShare, t.opts.Media.ScreenShare, on)
}

func (t *Transport) enable(ctx context.Context, src room.TrackSource, path string, on bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l, err := t.current()
	if err != nil {
		return err
	}
	if !on {
		t.mu.Lock()
		pub := t.pub
		t.mu.Unlock()
		if pub == nil {
			return nil
		}
		return pub.remove(src)
	}
	if path == "" {
		return fmt.Errorf("%s: %w", src, ErrNoDevice)
	}
	pub, err := t.ensurePublisher(l)
	if err != nil {
		return err
	}
	return pub.add(src, path, t.Identity(), t.log)
}

func (t *Transport) ensurePublisher(l *link) (*publisher, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pub != nil {
		return t.pub, nil
	}
	pc, err := t.api.NewPeerConnection(t.cfg)
	if err != nil {
		return nil, fmt.Errorf("publisher peer connection: %w", err)
	}
	t.pub = &publisher{
		negotiator: negotiator{pc: pc},
		link:       l,
		sources:    make(map[room.TrackSource]*source),
	}
	return t.pub, nil
}

func (p *publisher) add(src room.TrackSource, path, identity string, log *zap.Logger) error {
	p.mu.Lock()
	if _, ok := p.sources[src]; ok {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	var (
		track *webrtc.TrackLocalStaticSample
		play  func(stop <-chan struct{}) error
		err   error
	)
	if src == room.SourceMicrophone {
		track, play, err = oggSource(path, string(src), identity)
	} else {
		track, play, err = ivfSource(path, string(src), identity)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", src, err)
	}
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add %s track: %w", src, err)
	}
	// Read incoming RTCP packets. Before these packets are returned they are
	// processed by interceptors (NACK etc.).
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	s := &source{sender: sender, stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(s.done)
		if err := play(s.stop); err != nil {
			log.Warn("local source stopped", zap.String("source", string(src)), zap.Error(err))
		}
	}()

	p.mu.Lock()
	p.sources[src] = s
	p.mu.Unlock()
	return p.offer()
}

func (p *publisher) remove(src room.TrackSource) error {
	p.mu.Lock()
	s, ok := p.sources[src]
	delete(p.sources, src)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	s.halt()
	if err := p.pc.RemoveTrack(s.sender); err != nil {
		return fmt.Errorf("remove %s track: %w", src, err)
	}
	return p.offer()
}

// offer starts a negotiation, or queues one while an answer is outstanding.
func (p *publisher) offer() error {
	p.mu.Lock()
	if p.negotiating {
		p.again = true
		p.mu.Unlock()
		return nil
	}
	p.negotiating = true
	p.again = false
	p.mu.Unlock()

	offer, err := p.pc.CreateOffer(nil)
	if err == nil {
		err = setLocalComplete(p.pc, offer)
	}
	if err == nil {
		local := p.pc.LocalDescription()
		err = p.link.send(realtime.EventPublisherOffer, realtime.SDPPayload{Type: local.Type.String(), SDP: local.SDP})
	}
	if err != nil {
		p.mu.Lock()
		p.negotiating = false
		p.mu.Unlock()
		return fmt.Errorf("publisher offer: %w", err)
	}
	return nil
}

func (t *Transport) onPublisherAnswer(l *link, sdp string) error {
	t.mu.Lock()
	pub := t.pub
	t.mu.Unlock()
	if pub == nil || pub.link != l {
		return nil
	}
	err := pub.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
	pub.mu.Lock()
	pub.negotiating = false
	again := pub.again
	pub.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publisher answer: %w", err)
	}
	if again {
		return pub.offer()
	}
	return nil
}

func (p *publisher) close(log *zap.Logger) {
	p.mu.Lock()
	sources := p.sources
	p.sources = map[room.TrackSource]*source{}
	p.mu.Unlock()
	for _, s := range sources {
		s.halt()
	}
	if err := p.pc.Close(); err != nil {
		log.Debug("close publisher", zap.Error(err))
	}
}

// ivfSource validates an IVF file and returns a track plus the loop that
// plays it at the file's frame rate, rewinding at the end.
func ivfSource(path, id, streamID string) (*webrtc.TrackLocalStaticSample, func(<-chan struct{}) error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	_, header, err := ivfreader.NewWith(f)
	f.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("read ivf header: %w", err)
	}
	var mime string
	switch header.FourCC {
	case "VP80":
		mime = webrtc.MimeTypeVP8
	case "VP90":
		mime = webrtc.MimeTypeVP9
	default:
		return nil, nil, fmt.Errorf("unsupported ivf codec %q", header.FourCC)
	}
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, streamID)
	if err != nil {
		return nil, nil, err
	}
	play := func(stop <-chan struct{}) error {
		for {
			err := playIVFOnce(path, track, stop)
			if errors.Is(err, errStopped) {
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
	return track, play, nil
}

func playIVFOnce(path string, track *webrtc.TrackLocalStaticSample, stop <-chan struct{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		return err
	}
	interval := 33 * time.Millisecond
	if header.TimebaseDenominator > 0 {
		if d := time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator)); d > 0 {
			interval = d
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return errStopped
		case <-ticker.C:
		}
		frame, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := track.WriteSample(media.Sample{Data: frame, Duration: interval}); err != nil {
			return err
		}
	}
}

// oggSource validates an Ogg Opus file and returns a track plus its play loop.
func oggSource(path, id, streamID string) (*webrtc.TrackLocalStaticSample, func(<-chan struct{}) error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	_, _, err = oggreader.NewWith(f)
	f.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("read ogg header: %w", err)
	}
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, id, streamID)
	if err != nil {
		return nil, nil, err
	}
	play := func(stop <-chan struct{}) error {
		for {
			err := playOggOnce(path, track, stop)
			if errors.Is(err, errStopped) {
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
	return track, play, nil
}

func playOggOnce(path string, track *webrtc.TrackLocalStaticSample, stop <-chan struct{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		return err
	}
	var lastGranule uint64
	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return errStopped
		case <-ticker.C:
		}
		page, header, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(float64(samples) / opusClockRate * float64(time.Second))
		if err := track.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
			return err
		}
	}
}
