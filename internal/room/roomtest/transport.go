// Package roomtest provides a scriptable in-memory room.Transport.
package roomtest

import (
	"context"
	"sync"

	"github.com/aura-live/backend/internal/room"
)

// Transport is a fake room.Transport. Connect outcomes are scripted with
// FailConnect and Hold; room events are injected with Emit.
type Transport struct {
	events chan room.Event

	mu           sync.Mutex
	connectErrs  []error
	hold         bool
	gate         chan struct{}
	camGate      chan struct{}
	connectCalls int
	disconnects  int
	disconnErr   error
	camErr       error
	micErr       error
	screenErr    error
	camera       bool
	mic          bool
	screen       bool
	enableCalls  map[string]int
	tracks       map[string]*Track
	subscribeErr error
}

func New() *Transport {
	return &Transport{
		events:      make(chan room.Event, 64),
		enableCalls: make(map[string]int),
		tracks:      make(map[string]*Track),
	}
}

// FailConnect makes the next len(errs) Connect calls fail with errs in order.
// A nil entry lets that attempt succeed.
func (t *Transport) FailConnect(errs ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectErrs = append(t.connectErrs, errs...)
}

// Hold makes Connect succeed without ever confirming the connection.
func (t *Transport) Hold(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hold = on
}

// Block makes Connect wait until the returned release func is called or the
// attempt's context ends.
func (t *Transport) Block() (release func()) {
	gate := make(chan struct{})
	t.mu.Lock()
	t.gate = gate
	t.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// BlockCamera makes turning the camera on wait until the returned release
// func is called or the call's context ends.
func (t *Transport) BlockCamera() (release func()) {
	gate := make(chan struct{})
	t.mu.Lock()
	t.camGate = gate
	t.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// SetDeviceErrors makes enabling the camera or microphone fail.
func (t *Transport) SetDeviceErrors(camera, microphone error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.camErr, t.micErr = camera, microphone
}

func (t *Transport) SetScreenShareError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.screenErr = err
}

func (t *Transport) SetDisconnectError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnErr = err
}

func (t *Transport) SetSubscribeError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribeErr = err
}

// Emit delivers an event to the connection.
func (t *Transport) Emit(ev room.Event) {
	t.events <- ev
}

// Drop simulates an unexpected connection loss.
func (t *Transport) Drop(cause error) {
	t.Emit(room.Event{Kind: room.EventDisconnected, Err: cause})
}

func (t *Transport) Connect(ctx context.Context, _, _ string) error {
	t.mu.Lock()
	t.connectCalls++
	gate := t.gate
	var err error
	if len(t.connectErrs) > 0 {
		err = t.connectErrs[0]
		t.connectErrs = t.connectErrs[1:]
	}
	hold := t.hold
	t.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	if !hold {
		t.events <- room.Event{Kind: room.EventConnected}
	}
	return nil
}

func (t *Transport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnects++
	return t.disconnErr
}

func (t *Transport) Events() <-chan room.Event { return t.events }

func (t *Transport) EnableCamera(ctx context.Context, on bool) error {
	t.mu.Lock()
	gate := t.camGate
	t.mu.Unlock()
	if on && gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return t.enable("camera", on, &t.camera, func() error { return t.camErr })
}

func (t *Transport) EnableMicrophone(_ context.Context, on bool) error {
	return t.enable("microphone", on, &t.mic, func() error { return t.micErr })
}

func (t *Transport) EnableScreenShare(_ context.Context, on bool) error {
	return t.enable("screen_share", on, &t.screen, func() error { return t.screenErr })
}

func (t *Transport) enable(name string, on bool, state *bool, failure func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enableCalls[name]++
	if on {
		if err := failure(); err != nil {
			return err
		}
	}
	*state = on
	return nil
}

func (t *Transport) Subscribe(identity string, info room.TrackInfo) (room.RemoteTrack, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subscribeErr != nil {
		return nil, t.subscribeErr
	}
	tr := &Track{sid: info.SID, kind: info.Kind, identity: identity}
	t.tracks[info.SID] = tr
	return tr, nil
}

// ConnectCalls counts Connect invocations.
func (t *Transport) ConnectCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectCalls
}

// Disconnects counts Disconnect invocations.
func (t *Transport) Disconnects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disconnects
}

// EnableCalls counts enable/disable calls for "camera", "microphone" or "screen_share".
func (t *Transport) EnableCalls(device string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enableCalls[device]
}

// Devices reports which local devices are currently on.
func (t *Transport) Devices() (camera, microphone, screen bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.camera, t.mic, t.screen
}

// Track returns the subscribed track with the given SID, or nil.
func (t *Transport) Track(sid string) *Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tracks[sid]
}

// Track is a fake attached remote track.
type Track struct {
	sid      string
	kind     room.TrackKind
	identity string

	mu       sync.Mutex
	detached int
	onDetach func()
	err      error
}

func (tr *Track) SID() string          { return tr.sid }
func (tr *Track) Kind() room.TrackKind { return tr.kind }

func (tr *Track) Detach() error {
	tr.mu.Lock()
	tr.detached++
	fn, err := tr.onDetach, tr.err
	tr.mu.Unlock()
	if fn != nil {
		fn()
	}
	return err
}

// OnDetach registers a hook run inside Detach.
func (tr *Track) OnDetach(fn func()) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.onDetach = fn
}

// FailDetach makes Detach return err after releasing.
func (tr *Track) FailDetach(err error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.err = err
}

func (tr *Track) Detached() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.detached > 0
}

// Factory builds fake transports and remembers them.
type Factory struct {
	mu        sync.Mutex
	configure func(*Transport)
	created   []*Transport
}

// NewFactory returns a factory that applies configure to each new transport.
func NewFactory(configure func(*Transport)) *Factory {
	return &Factory{configure: configure}
}

func (f *Factory) New() room.Transport {
	t := New()
	if f.configure != nil {
		f.configure(t)
	}
	f.mu.Lock()
	f.created = append(f.created, t)
	f.mu.Unlock()
	return t
}

// Created returns the transports built so far.
func (f *Factory) Created() []*Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Transport, len(f.created))
	copy(out, f.created)
	return out
}

// Last returns the most recently built transport, or nil.
func (f *Factory) Last() *Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}
