// Package recorder records a session's provider media by tapping the SFU and
// muxing the RTP stream with ffmpeg.
package recorder

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/aura-live/backend/internal/liveerr"
	"github.com/aura-live/backend/internal/realtime"
	"github.com/aura-live/backend/internal/recordings"
	"github.com/aura-live/backend/pkg/queue"
)

const (
	// RTP payload types we use in the SDP sent to ffmpeg (must match rewrite in WriteRTP).
	payloadTypeVideo = 96
	payloadTypeAudio = 97
	// Default max recording duration (2 hours).
	defaultMaxDurationSec = 7200
	stopGrace             = 10 * time.Second
)

// UploadEnqueuer hands a finished file to the archival worker.
type UploadEnqueuer interface {
	EnqueueRecordingUpload(ctx context.Context, payload queue.RecordingUploadPayload) error
}

// Tap is the part of the SFU the recorder needs.
type Tap interface {
	GetTrackInfo(sessionID uuid.UUID, identity string) []realtime.TrackInfo
	RegisterRecordingSink(sessionID uuid.UUID, identity string, sink realtime.RecordingSink)
	UnregisterRecordingSink(sessionID uuid.UUID)
}

// session is an active recording for one live session.
type session struct {
	sessionID  uuid.UUID
	externalID string
	outputPath string
	sdpPath    string
	cmd        *exec.Cmd
	mu         sync.Mutex
	video      *output
	audio      *output
}

// output is the UDP leg for one recorded track.
type output struct {
	sid  string
	conn *net.UDPConn
}

// Sink implements realtime.RecordingSink by sending RTP to ffmpeg's UDP ports.
// Only the tracks selected at start are forwarded.
type Sink struct {
	session *session
}

// WriteRTP sends a copy of the RTP packet to ffmpeg (rewriting payload type to match SDP).
func (s *Sink) WriteRTP(track realtime.TrackInfo, packet []byte) {
	if len(packet) < 2 {
		return
	}
	s.session.mu.Lock()
	defer s.session.mu.Unlock()
	out, pt := s.session.video, byte(payloadTypeVideo)
	if track.Kind == webrtc.RTPCodecTypeAudio {
		out, pt = s.session.audio, payloadTypeAudio
	}
	if out == nil || out.conn == nil || out.sid != track.SID {
		return
	}
	// Rewrite payload type (lower 7 bits of second byte).
	packet[1] = (packet[1] & 0x80) | pt
	_, _ = out.conn.Write(packet)
}

// Service starts and stops recordings. It implements recordings.Recorder.
type Service struct {
	tap       Tap
	uploads   UploadEnqueuer
	outputDir string
	ffmpeg    string
	maxDurSec int
	log       *zap.Logger
	mu        sync.Mutex
	sessions  map[uuid.UUID]*session
	wg        sync.WaitGroup
}

var _ recordings.Recorder = (*Service)(nil)

// NewService creates a recording service that uses the SFU to tap RTP and ffmpeg to mux.
func NewService(tap Tap, uploads UploadEnqueuer, outputDir string, log *zap.Logger) *Service {
	if outputDir == "" {
		outputDir = os.TempDir()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		tap:       tap,
		uploads:   uploads,
		outputDir: outputDir,
		ffmpeg:    "ffmpeg",
		maxDurSec: defaultMaxDurationSec,
		log:       log,
		sessions:  make(map[uuid.UUID]*session),
	}
}

// SetMaxDuration sets the maximum recording duration in seconds (for ffmpeg -t).
func (svc *Service) SetMaxDuration(sec int) {
	if sec > 0 {
		svc.maxDurSec = sec
	}
}

// SetFFmpegPath overrides the ffmpeg binary.
func (svc *Service) SetFFmpegPath(path string) {
	if path != "" {
		svc.ffmpeg = path
	}
}

// selectTracks picks the video and audio track to record. Screen share wins
// over camera so the recording follows what the provider presents.
func selectTracks(tracks []realtime.TrackInfo) (video, audio *realtime.TrackInfo) {
	for i := range tracks {
		t := &tracks[i]
		switch t.Kind {
		case webrtc.RTPCodecTypeVideo:
			if video == nil || (t.Source == "screen_share" && video.Source != "screen_share") {
				video = t
			}
		case webrtc.RTPCodecTypeAudio:
			if audio == nil {
				audio = t
			}
		}
	}
	return video, audio
}

func codecName(t *realtime.TrackInfo) (string, uint32) {
	name := strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(t.MimeType), "video/"), "audio/")
	clock := t.ClockRate
	switch name {
	case "vp8", "vp9", "h264":
		name = strings.ToUpper(name)
		if clock == 0 {
			clock = 90000
		}
	case "pcmu":
		name = "PCMU"
		if clock == 0 {
			clock = 8000
		}
	case "opus", "":
		if t.Kind == webrtc.RTPCodecTypeVideo {
			name, clock = "VP8", 90000
		} else {
			name, clock = "opus", 48000
		}
	}
	return name, clock
}

// buildSDP generates an SDP file that ffmpeg will use to receive RTP (we send with payload 96=video, 97=audio).
func buildSDP(video, audio *realtime.TrackInfo, videoPort, audioPort int) string {
	var b strings.Builder
	b.WriteString("v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nc=IN IP4 127.0.0.1\r\nt=0 0\r\n")
	if video != nil {
		codec, clock := codecName(video)
		fmt.Fprintf(&b, "m=video %d RTP/AVP %d\r\na=rtpmap:%d %s/%d\r\n", videoPort, payloadTypeVideo, payloadTypeVideo, codec, clock)
	}
	if audio != nil {
		codec, clock := codecName(audio)
		channels := ""
		if codec == "opus" {
			channels = "/2"
		}
		fmt.Fprintf(&b, "m=audio %d RTP/AVP %d\r\na=rtpmap:%d %s/%d%s\r\n", audioPort, payloadTypeAudio, payloadTypeAudio, codec, clock, channels)
	}
	return b.String()
}

// freePort asks the kernel for an unused loopback UDP port.
func freePort() (int, error) {
	l, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.LocalAddr().(*net.UDPAddr).Port, nil
}

func dialOutput(t *realtime.TrackInfo, port int) (*output, error) {
	if t == nil {
		return nil, nil
	}
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		return nil, err
	}
	return &output{sid: t.SID, conn: conn}, nil
}

// Start begins recording the provider's published tracks. The provider must
// already be publishing.
func (svc *Service) Start(_ context.Context, target recordings.Target) (string, error) {
	svc.mu.Lock()
	_, busy := svc.sessions[target.SessionID]
	svc.mu.Unlock()
	if busy {
		return "", liveerr.ErrAlreadyRecording
	}

	video, audio := selectTracks(svc.tap.GetTrackInfo(target.SessionID, target.ProviderID.String()))
	if video == nil && audio == nil {
		return "", fmt.Errorf("provider is not publishing in %s: %w", target.RoomName, liveerr.ErrRoomUnavailable)
	}

	videoPort, err := freePort()
	if err != nil {
		return "", fmt.Errorf("allocate video port: %w", err)
	}
	audioPort, err := freePort()
	if err != nil {
		return "", fmt.Errorf("allocate audio port: %w", err)
	}

	externalID := uuid.New().String()
	dir := filepath.Join(svc.outputDir, "recordings")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	outputPath := filepath.Join(dir, externalID+".mp4")
	sdpPath := filepath.Join(dir, externalID+".sdp")
	if err := os.WriteFile(sdpPath, []byte(buildSDP(video, audio, videoPort, audioPort)), 0600); err != nil {
		return "", fmt.Errorf("write sdp: %w", err)
	}

	// Not bound to the request context: the recording outlives the start call.
	cmd := exec.Command(svc.ffmpeg,
		"-protocol_whitelist", "file,udp,rtp",
		"-f", "sdp", "-i", sdpPath,
		"-c", "copy",
		"-t", fmt.Sprintf("%d", svc.maxDurSec),
		"-y",
		outputPath,
	)
	if err := cmd.Start(); err != nil {
		_ = os.Remove(sdpPath)
		return "", fmt.Errorf("start ffmpeg: %w", err)
	}

	s := &session{
		sessionID:  target.SessionID,
		externalID: externalID,
		outputPath: outputPath,
		sdpPath:    sdpPath,
		cmd:        cmd,
	}
	if s.video, err = dialOutput(video, videoPort); err == nil {
		s.audio, err = dialOutput(audio, audioPort)
	}
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		s.closeOutputs()
		_ = os.Remove(sdpPath)
		return "", fmt.Errorf("udp dial: %w", err)
	}

	svc.mu.Lock()
	svc.sessions[target.SessionID] = s
	svc.mu.Unlock()
	svc.tap.RegisterRecordingSink(target.SessionID, target.ProviderID.String(), &Sink{session: s})

	svc.log.Info("recording started",
		zap.String("session_id", target.SessionID.String()),
		zap.String("recording_id", externalID),
		zap.String("output", outputPath))
	return externalID, nil
}

func (s *session) closeOutputs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, out := range []*output{s.video, s.audio} {
		if out != nil && out.conn != nil {
			_ = out.conn.Close()
			out.conn = nil
		}
	}
}

// Stop detaches the tap and returns. ffmpeg is finalized in the background
// and the file is queued for upload once it exits.
func (svc *Service) Stop(_ context.Context, sessionID uuid.UUID, externalID string) error {
	svc.mu.Lock()
	s, ok := svc.sessions[sessionID]
	if !ok || s.externalID != externalID {
		svc.mu.Unlock()
		return fmt.Errorf("recording %q: %w", externalID, liveerr.ErrNotRecording)
	}
	delete(svc.sessions, sessionID)
	svc.mu.Unlock()

	svc.tap.UnregisterRecordingSink(sessionID)
	s.closeOutputs()

	svc.wg.Add(1)
	go func() {
		defer svc.wg.Done()
		svc.finalize(s)
	}()
	return nil
}

func (svc *Service) finalize(s *session) {
	log := svc.log.With(zap.String("session_id", s.sessionID.String()), zap.String("recording_id", s.externalID))
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Signal(os.Interrupt)
		done := make(chan error, 1)
		go func() { done <- s.cmd.Wait() }()
		select {
		case err := <-done:
			if err != nil {
				log.Warn("ffmpeg exited with error", zap.Error(err))
			}
		case <-time.After(stopGrace):
			_ = s.cmd.Process.Kill()
			<-done
			log.Warn("ffmpeg killed after grace period")
		}
	}
	_ = os.Remove(s.sdpPath)

	if _, err := os.Stat(s.outputPath); err != nil {
		log.Error("recording output missing", zap.String("output", s.outputPath), zap.Error(err))
		return
	}
	if svc.uploads == nil {
		log.Warn("no upload queue configured, recording left on disk", zap.String("output", s.outputPath))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := svc.uploads.EnqueueRecordingUpload(ctx, queue.RecordingUploadPayload{
		SessionID:  s.sessionID,
		ExternalID: s.externalID,
		LocalPath:  s.outputPath,
	})
	if err != nil {
		log.Error("enqueue recording upload failed", zap.Error(err))
		return
	}
	log.Info("recording finalized", zap.String("output", s.outputPath))
}

// Active reports whether the session currently has a recording running.
func (svc *Service) Active(sessionID uuid.UUID) bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	_, ok := svc.sessions[sessionID]
	return ok
}

// ActiveSessions lists the sessions with a recording running in this process.
func (svc *Service) ActiveSessions() []uuid.UUID {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(svc.sessions))
	for id := range svc.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Wait blocks until background finalizations finish or ctx is done.
func (svc *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		svc.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
