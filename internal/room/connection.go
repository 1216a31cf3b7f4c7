package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-live/backend/internal/liveerr"
	"github.com/aura-live/backend/internal/telemetry"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// MediaState is the local participant's published media.
type MediaState struct {
	CameraOn      bool
	MicrophoneOn  bool
	ScreenSharing bool
}

// UpdateKind identifies a change delivered to observers.
type UpdateKind int

const (
	UpdateParticipantJoined UpdateKind = iota + 1
	UpdateParticipantLeft
	UpdateParticipantChanged
	UpdateStateChanged
)

// Update is a roster or state change. Participant is set for participant
// updates; State (and Err on a terminal disconnect) for state changes.
type Update struct {
	Kind        UpdateKind
	Participant Participant
	State       State
	Err         error
}

// Observer receives updates synchronously, in order, on the connection's
// event goroutine. It must not block.
type Observer func(Update)

// Connection is one client's live connection to a session room.
type Connection struct {
	sessionID uuid.UUID
	userID    uuid.UUID
	identity  string
	room      string
	address   string
	token     string

	transport Transport
	cfg       Config
	log       *zap.Logger
	mgr       *Manager

	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	closed   chan struct{}
	running  bool
	closing  atomic.Bool
	mediaMu  sync.Mutex

	mu        sync.RWMutex
	state     State
	media     MediaState
	degraded  bool
	roster    roster
	tracks    map[string]map[string]RemoteTrack
	observers map[int]Observer
	nextObs   int
	err       error
}

func newConnection(m *Manager, req JoinRequest, t Transport) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	identity := req.UserID.String()
	return &Connection{
		sessionID: req.SessionID,
		userID:    req.UserID,
		identity:  identity,
		room:      req.RoomName,
		address:   req.Address,
		token:     req.Token,
		transport: t,
		cfg:       m.cfg,
		log: m.log.With(
			zap.String("session_id", req.SessionID.String()),
			zap.String("user_id", identity),
			zap.String("room", req.RoomName),
		),
		mgr:       m,
		ctx:       ctx,
		cancel:    cancel,
		loopDone:  make(chan struct{}),
		closed:    make(chan struct{}),
		state:     StateConnecting,
		tracks:    make(map[string]map[string]RemoteTrack),
		observers: make(map[int]Observer),
	}
}

func (c *Connection) SessionID() uuid.UUID { return c.sessionID }
func (c *Connection) Identity() string     { return c.identity }
func (c *Connection) RoomName() string     { return c.room }

// Done is closed once the connection has fully disconnected.
func (c *Connection) Done() <-chan struct{} { return c.closed }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Err returns the terminal error, if the connection ended on its own.
func (c *Connection) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Media returns the local media state.
func (c *Connection) Media() MediaState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.media
}

// Degraded reports whether the join proceeded without local camera or microphone.
func (c *Connection) Degraded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.degraded
}

// Roster returns a snapshot of the participants in join order, local first.
func (c *Connection) Roster() []Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roster.snapshot()
}

// Participant looks up one roster entry.
func (c *Connection) Participant(identity string) (Participant, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roster.get(identity)
}

// Track returns an attached remote track of the given kind for identity.
func (c *Connection) Track(identity string, kind TrackKind) (RemoteTrack, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.tracks[identity] {
		if t.Kind() == kind {
			return t, true
		}
	}
	return nil, false
}

// Observe registers fn and returns the roster at registration time together
// with a function that unregisters fn.
func (c *Connection) Observe(fn Observer) ([]Participant, func()) {
	var snap []Participant
	stop := c.ObserveSeeded(func(p []Participant) { snap = p }, fn)
	return snap, stop
}

// ObserveSeeded is Observe with the roster handed to seed while the roster is
// locked, so no change can land between the seed and the first update fn sees.
// seed must not call back into the connection.
func (c *Connection) ObserveSeeded(seed func([]Participant), fn Observer) func() {
	c.mu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	if seed != nil {
		seed(c.roster.snapshot())
	}
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

func (c *Connection) notify(updates ...Update) {
	if len(updates) == 0 {
		return
	}
	c.mu.RLock()
	obs := make([]Observer, 0, len(c.observers))
	for _, fn := range c.observers {
		obs = append(obs, fn)
	}
	c.mu.RUnlock()
	for _, u := range updates {
		for _, fn := range obs {
			fn(u)
		}
	}
}

func (c *Connection) setState(s State, err error) {
	c.mu.Lock()
	if c.state == s && err == nil {
		c.mu.Unlock()
		return
	}
	c.state = s
	if err != nil {
		c.err = err
	}
	c.mu.Unlock()
	c.log.Info("room connection state", zap.String("state", string(s)), zap.Error(err))
	c.notify(Update{Kind: UpdateStateChanged, State: s, Err: err})
}

// open connects with the configured retry policy and waits for the room to
// confirm the connection.
func (c *Connection) open(ctx context.Context) error {
	_, err := c.cfg.ConnectRetry.Retry(ctx, liveerr.Retryable, func(ctx context.Context, attempt int) error {
		c.log.Debug("connecting to room", zap.Int("attempt", attempt))
		err := c.connectOnce(ctx)
		if err != nil {
			c.log.Warn("room connect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})
	return err
}

func (c *Connection) connectOnce(ctx context.Context) error {
	if err := c.transport.Connect(ctx, c.address, c.token); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.transport.Events():
			switch ev.Kind {
			case EventConnected:
				return nil
			case EventDisconnected:
				if ev.Err != nil {
					return ev.Err
				}
				return liveerr.ErrNetworkUnreachable
			default:
				c.handle(ev)
			}
		}
	}
}

// established moves a freshly opened connection to connected and adds the
// local participant.
func (c *Connection) established() {
	c.mu.Lock()
	local := Participant{Identity: c.identity, IsLocal: true, JoinedAt: time.Now()}
	added := c.roster.add(local)
	c.mu.Unlock()
	if added {
		c.notify(Update{Kind: UpdateParticipantJoined, Participant: local})
	}
	c.setState(StateConnected, nil)
}

// acquireMedia turns on camera and microphone. Failures degrade the join.
func (c *Connection) acquireMedia(ctx context.Context) {
	c.mediaMu.Lock()
	defer c.mediaMu.Unlock()

	if !c.mgr.acquireDevices(c) {
		c.log.Warn("media devices held by another connection, joining without camera and microphone")
		c.markDegraded()
		return
	}
	camErr := c.transport.EnableCamera(ctx, true)
	micErr := c.transport.EnableMicrophone(ctx, true)
	if camErr != nil {
		c.log.Warn("camera unavailable", zap.Error(camErr))
	}
	if micErr != nil {
		c.log.Warn("microphone unavailable", zap.Error(micErr))
	}
	if camErr != nil || micErr != nil {
		c.markDegraded()
	}
	if camErr != nil && micErr != nil {
		c.mgr.releaseDevices(c)
	}
	c.applyMedia(func(m *MediaState) {
		m.CameraOn = camErr == nil
		m.MicrophoneOn = micErr == nil
	})
}

func (c *Connection) markDegraded() {
	c.mu.Lock()
	c.degraded = true
	c.mu.Unlock()
}

func (c *Connection) applyMedia(fn func(m *MediaState)) {
	c.mu.Lock()
	fn(&c.media)
	media := c.media
	p, changed := c.roster.update(c.identity, func(p *Participant) {
		p.HasVideo = media.CameraOn || media.ScreenSharing
		p.HasAudio = media.MicrophoneOn
	})
	c.mu.Unlock()
	if changed {
		c.notify(Update{Kind: UpdateParticipantChanged, Participant: p})
	}
}

type device int

const (
	deviceCamera device = iota
	deviceMicrophone
	deviceScreen
)

func (d device) String() string {
	switch d {
	case deviceCamera:
		return "camera"
	case deviceMicrophone:
		return "microphone"
	default:
		return "screen share"
	}
}

// SetCamera turns the local camera on or off. Setting the current value is a no-op.
func (c *Connection) SetCamera(ctx context.Context, on bool) error {
	return c.toggle(ctx, deviceCamera, on)
}

// SetMicrophone turns the local microphone on or off. Setting the current value is a no-op.
func (c *Connection) SetMicrophone(ctx context.Context, on bool) error {
	return c.toggle(ctx, deviceMicrophone, on)
}

// SetScreenShare starts or stops screen sharing. Setting the current value is a no-op.
func (c *Connection) SetScreenShare(ctx context.Context, on bool) error {
	return c.toggle(ctx, deviceScreen, on)
}

func (c *Connection) toggle(ctx context.Context, d device, on bool) error {
	c.mediaMu.Lock()
	defer c.mediaMu.Unlock()

	c.mu.RLock()
	state, media := c.state, c.media
	c.mu.RUnlock()
	if state != StateConnected {
		return fmt.Errorf("%s: %w", d, liveerr.ErrNotConnected)
	}
	if current(media, d) == on {
		return nil
	}
	if on && d != deviceScreen && !c.mgr.acquireDevices(c) {
		return fmt.Errorf("%s: %w", d, liveerr.ErrDevicesBusy)
	}

	var err error
	switch d {
	case deviceCamera:
		err = c.transport.EnableCamera(ctx, on)
	case deviceMicrophone:
		err = c.transport.EnableMicrophone(ctx, on)
	case deviceScreen:
		err = c.transport.EnableScreenShare(ctx, on)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", d, err)
	}
	c.applyMedia(func(m *MediaState) { set(m, d, on) })
	return nil
}

func current(m MediaState, d device) bool {
	switch d {
	case deviceCamera:
		return m.CameraOn
	case deviceMicrophone:
		return m.MicrophoneOn
	default:
		return m.ScreenSharing
	}
}

func set(m *MediaState, d device, on bool) {
	switch d {
	case deviceCamera:
		m.CameraOn = on
	case deviceMicrophone:
		m.MicrophoneOn = on
	default:
		m.ScreenSharing = on
	}
}

// run processes transport events until the connection is closed.
func (c *Connection) run() {
	defer close(c.loopDone)
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.transport.Events():
			if ev.Kind != EventDisconnected {
				c.handle(ev)
				continue
			}
			if c.ctx.Err() != nil {
				return
			}
			if err := c.reconnect(ev.Err); err != nil {
				if c.ctx.Err() != nil {
					return
				}
				c.close(err, false)
				return
			}
		}
	}
}

func (c *Connection) reconnect(cause error) error {
	c.log.Warn("room connection lost", zap.Error(cause))
	c.setState(StateReconnecting, nil)
	c.detachAll()

	attempts, err := c.cfg.Reconnect.Retry(c.ctx, liveerr.Retryable, func(ctx context.Context, attempt int) error {
		actx, cancel := context.WithTimeout(ctx, c.cfg.JoinTimeout)
		defer cancel()
		err := c.connectOnce(actx)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = liveerr.ErrTimeout
		}
		if err != nil {
			telemetry.Failure("reconnect_attempt", liveerr.CategoryOf(err).String())
			c.log.Warn("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})
	if err != nil {
		if c.ctx.Err() != nil {
			return c.ctx.Err()
		}
		telemetry.Failure("reconnect", liveerr.CategoryOf(err).String())
		return fmt.Errorf("%w after %d attempts: %w", liveerr.ErrReconnectExhausted, attempts, err)
	}

	telemetry.Success("reconnect")
	c.setState(StateConnected, nil)
	c.restoreMedia()
	return nil
}

// restoreMedia republishes local media that was on before the drop.
func (c *Connection) restoreMedia() {
	c.mediaMu.Lock()
	defer c.mediaMu.Unlock()
	media := c.Media()
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.TeardownTimeout)
	defer cancel()
	for _, d := range []device{deviceCamera, deviceMicrophone, deviceScreen} {
		if !current(media, d) {
			continue
		}
		var err error
		switch d {
		case deviceCamera:
			err = c.transport.EnableCamera(ctx, true)
		case deviceMicrophone:
			err = c.transport.EnableMicrophone(ctx, true)
		case deviceScreen:
			err = c.transport.EnableScreenShare(ctx, true)
		}
		if err != nil {
			c.log.Warn("could not republish media after reconnect", zap.Stringer("device", d), zap.Error(err))
			c.applyMedia(func(m *MediaState) { set(m, d, false) })
		}
	}
}

func (c *Connection) handle(ev Event) {
	switch ev.Kind {
	case EventParticipantJoined:
		c.onJoined(ev.Identity)
	case EventParticipantLeft:
		c.onLeft(ev.Identity)
	case EventTrackPublished:
		c.onTrackPublished(ev.Identity, ev.Track)
	case EventTrackUnpublished:
		c.onTrackUnpublished(ev.Identity, ev.Track.SID)
	case EventActiveSpeakers:
		c.onActiveSpeakers(ev.Identities)
	case EventRosterSync:
		c.onRosterSync(ev.Identities)
	default:
		c.log.Debug("ignoring room event", zap.Stringer("kind", ev.Kind))
	}
}

func (c *Connection) onJoined(identity string) {
	if identity == "" || identity == c.identity {
		return
	}
	p := Participant{Identity: identity, JoinedAt: time.Now()}
	c.mu.Lock()
	added := c.roster.add(p)
	c.mu.Unlock()
	if added {
		c.notify(Update{Kind: UpdateParticipantJoined, Participant: p})
	}
}

// onLeft detaches the participant's tracks before removing the roster entry.
// A leave for an identity that never joined is ignored.
func (c *Connection) onLeft(identity string) {
	if identity == c.identity {
		return
	}
	c.mu.Lock()
	if _, ok := c.roster.get(identity); !ok {
		c.mu.Unlock()
		c.log.Debug("participant left without joining", zap.String("identity", identity))
		return
	}
	tracks := c.takeTracks(identity)
	c.mu.Unlock()

	c.detach(tracks)

	c.mu.Lock()
	p, removed := c.roster.remove(identity)
	c.mu.Unlock()
	if removed {
		c.notify(Update{Kind: UpdateParticipantLeft, Participant: p})
	}
}

func (c *Connection) onTrackPublished(identity string, info TrackInfo) {
	if identity == c.identity || info.SID == "" {
		return
	}
	c.mu.RLock()
	_, present := c.roster.get(identity)
	_, attached := c.tracks[identity][info.SID]
	c.mu.RUnlock()
	if !present || attached {
		return
	}

	track, err := c.transport.Subscribe(identity, info)
	if err != nil {
		c.log.Warn("subscribe failed", zap.String("identity", identity), zap.String("track", info.SID), zap.Error(err))
		return
	}

	c.mu.Lock()
	if _, ok := c.roster.get(identity); !ok {
		c.mu.Unlock()
		c.detach([]RemoteTrack{track})
		return
	}
	if c.tracks[identity] == nil {
		c.tracks[identity] = make(map[string]RemoteTrack)
	}
	c.tracks[identity][info.SID] = track
	p, changed := c.refreshFlags(identity)
	c.mu.Unlock()
	if changed {
		c.notify(Update{Kind: UpdateParticipantChanged, Participant: p})
	}
}

func (c *Connection) onTrackUnpublished(identity, sid string) {
	c.mu.Lock()
	track, ok := c.tracks[identity][sid]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.tracks[identity], sid)
	p, changed := c.refreshFlags(identity)
	c.mu.Unlock()

	c.detach([]RemoteTrack{track})
	if changed {
		c.notify(Update{Kind: UpdateParticipantChanged, Participant: p})
	}
}

func (c *Connection) onActiveSpeakers(identities []string) {
	speaking := make(map[string]bool, len(identities))
	for _, id := range identities {
		speaking[id] = true
	}
	var updates []Update
	c.mu.Lock()
	for _, p := range c.roster.snapshot() {
		if next, changed := c.roster.update(p.Identity, func(p *Participant) { p.IsSpeaking = speaking[p.Identity] }); changed {
			updates = append(updates, Update{Kind: UpdateParticipantChanged, Participant: next})
		}
	}
	c.mu.Unlock()
	c.notify(updates...)
}

// onRosterSync reconciles the remote roster with the room's authoritative list
// after a reconnect.
func (c *Connection) onRosterSync(identities []string) {
	want := make(map[string]bool, len(identities))
	for _, id := range identities {
		if id != c.identity {
			want[id] = true
		}
	}
	c.mu.RLock()
	have := c.roster.remoteIdentities()
	c.mu.RUnlock()

	for _, id := range have {
		if !want[id] {
			c.onLeft(id)
		}
		delete(want, id)
	}
	for _, id := range identities {
		if want[id] {
			c.onJoined(id)
		}
	}
}

// refreshFlags recomputes HasVideo/HasAudio from attached tracks. Callers hold c.mu.
func (c *Connection) refreshFlags(identity string) (Participant, bool) {
	var video, audio bool
	for _, t := range c.tracks[identity] {
		switch t.Kind() {
		case TrackVideo:
			video = true
		case TrackAudio:
			audio = true
		}
	}
	return c.roster.update(identity, func(p *Participant) {
		p.HasVideo = video
		p.HasAudio = audio
	})
}

// takeTracks removes identity's tracks from the attachment map. Callers hold c.mu.
func (c *Connection) takeTracks(identity string) []RemoteTrack {
	m := c.tracks[identity]
	delete(c.tracks, identity)
	out := make([]RemoteTrack, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	if len(out) > 0 {
		c.roster.update(identity, func(p *Participant) {
			p.HasVideo = false
			p.HasAudio = false
		})
	}
	return out
}

func (c *Connection) detach(tracks []RemoteTrack) {
	for _, t := range tracks {
		if err := t.Detach(); err != nil {
			c.log.Warn("detach track", zap.String("track", t.SID()), zap.Error(err))
		}
	}
}

// detachAll releases every attached remote track, keeping the roster.
func (c *Connection) detachAll() {
	var all []RemoteTrack
	var updates []Update
	c.mu.Lock()
	for _, id := range c.roster.remoteIdentities() {
		if len(c.tracks[id]) == 0 {
			continue
		}
		all = append(all, c.takeTracks(id)...)
		if p, ok := c.roster.get(id); ok {
			updates = append(updates, Update{Kind: UpdateParticipantChanged, Participant: p})
		}
	}
	for id, m := range c.tracks {
		for _, t := range m {
			all = append(all, t)
		}
		delete(c.tracks, id)
	}
	c.mu.Unlock()
	c.detach(all)
	c.notify(updates...)
}

// Leave disconnects from the room. It always completes locally: local media
// and remote tracks are released and the state ends disconnected even when
// the transport reports errors, which are logged.
func (c *Connection) Leave() {
	c.close(nil, true)
}

// close tears the connection down once. Concurrent callers that asked to wait
// block until the first teardown has finished.
func (c *Connection) close(cause error, wait bool) {
	if !c.closing.CompareAndSwap(false, true) {
		if wait {
			<-c.closed
		}
		return
	}
	c.teardown(cause, wait)
	close(c.closed)
}

func (c *Connection) teardown(cause error, wait bool) {
	c.cancel()
	if wait && c.running {
		select {
		case <-c.loopDone:
		case <-time.After(c.cfg.TeardownTimeout):
			c.log.Warn("event loop did not stop before teardown timeout")
		}
	}

	c.releaseMedia()
	c.detachAll()
	if err := c.transport.Disconnect(); err != nil {
		c.log.Warn("transport disconnect", zap.Error(err))
	}

	c.mgr.releaseDevices(c)
	c.mgr.forget(c)

	c.mu.Lock()
	c.roster.reset()
	c.mu.Unlock()
	c.setState(StateDisconnected, cause)
	if cause != nil {
		c.log.Error("room connection ended", zap.Error(cause))
	} else {
		c.log.Info("left room")
	}
}

func (c *Connection) releaseMedia() {
	c.mediaMu.Lock()
	defer c.mediaMu.Unlock()
	media := c.Media()
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.TeardownTimeout)
	defer cancel()
	if media.ScreenSharing {
		if err := c.transport.EnableScreenShare(ctx, false); err != nil {
			c.log.Warn("stop screen share", zap.Error(err))
		}
	}
	if media.CameraOn {
		if err := c.transport.EnableCamera(ctx, false); err != nil {
			c.log.Warn("release camera", zap.Error(err))
		}
	}
	if media.MicrophoneOn {
		if err := c.transport.EnableMicrophone(ctx, false); err != nil {
			c.log.Warn("release microphone", zap.Error(err))
		}
	}
	c.mu.Lock()
	c.media = MediaState{}
	c.mu.Unlock()
}
