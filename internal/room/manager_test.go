package room_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-live/backend/internal/liveerr"
	"github.com/aura-live/backend/internal/room"
	"github.com/aura-live/backend/internal/room/roomtest"
)

const waitFor = time.Second

func testConfig() room.Config {
	return room.Config{
		JoinTimeout:     200 * time.Millisecond,
		ConnectRetry:    room.Backoff{MaxAttempts: 3, Step: 5 * time.Millisecond, Max: 20 * time.Millisecond, Immediate: true},
		Reconnect:       room.Backoff{MaxAttempts: 3, Step: 5 * time.Millisecond, Max: 20 * time.Millisecond},
		TeardownTimeout: 100 * time.Millisecond,
	}
}

func newRequest() room.JoinRequest {
	sessionID := uuid.New()
	return room.JoinRequest{
		SessionID: sessionID,
		UserID:    uuid.New(),
		RoomName:  "room-" + sessionID.String(),
		Address:   "ws://rooms.test/ws",
		Token:     "token",
	}
}

func join(t *testing.T, m *room.Manager, req room.JoinRequest) *room.Connection {
	t.Helper()
	c, err := m.Join(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, room.StateConnected, c.State())
	return c
}

func identities(ps []room.Participant) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Identity)
	}
	return out
}

func TestJoinConnectsWithLocalMedia(t *testing.T) {
	f := roomtest.NewFactory(nil)
	m := room.NewManager(f.New, testConfig(), nil)
	req := newRequest()

	c := join(t, m, req)

	assert.Same(t, c, m.Connection(req.SessionID, req.UserID))
	assert.False(t, c.Degraded())
	assert.Equal(t, room.MediaState{CameraOn: true, MicrophoneOn: true}, c.Media())

	roster := c.Roster()
	require.Len(t, roster, 1)
	assert.True(t, roster[0].IsLocal)
	assert.Equal(t, req.UserID.String(), roster[0].Identity)
	assert.True(t, roster[0].HasVideo)
	assert.True(t, roster[0].HasAudio)
}

func TestJoinTimesOut(t *testing.T) {
	f := roomtest.NewFactory(func(tr *roomtest.Transport) { tr.Hold(true) })
	cfg := testConfig()
	m := room.NewManager(f.New, cfg, nil)
	req := newRequest()

	start := time.Now()
	c, err := m.Join(context.Background(), req)

	assert.Nil(t, c)
	assert.ErrorIs(t, err, liveerr.ErrTimeout)
	assert.Less(t, time.Since(start), cfg.JoinTimeout+500*time.Millisecond)
	assert.Nil(t, m.Connection(req.SessionID, req.UserID))
	assert.Equal(t, 1, f.Last().Disconnects())
}

func TestJoinRetriesTransientFailures(t *testing.T) {
	f := roomtest.NewFactory(func(tr *roomtest.Transport) {
		tr.FailConnect(liveerr.ErrNetworkUnreachable, liveerr.ErrRoomUnavailable)
	})
	m := room.NewManager(f.New, testConfig(), nil)

	join(t, m, newRequest())

	assert.Equal(t, 3, f.Last().ConnectCalls())
}

func TestJoinSurfacesLastTransportErrorAfterRetries(t *testing.T) {
	f := roomtest.NewFactory(func(tr *roomtest.Transport) {
		tr.FailConnect(liveerr.ErrNetworkUnreachable, liveerr.ErrNetworkUnreachable, liveerr.ErrNetworkUnreachable)
	})
	m := room.NewManager(f.New, testConfig(), nil)

	_, err := m.Join(context.Background(), newRequest())

	assert.ErrorIs(t, err, liveerr.ErrNetworkUnreachable)
	assert.Equal(t, 3, f.Last().ConnectCalls())
}

func TestJoinDoesNotRetryInvalidCredential(t *testing.T) {
	f := roomtest.NewFactory(func(tr *roomtest.Transport) {
		tr.FailConnect(liveerr.ErrInvalidCredential)
	})
	m := room.NewManager(f.New, testConfig(), nil)

	_, err := m.Join(context.Background(), newRequest())

	assert.ErrorIs(t, err, liveerr.ErrInvalidCredential)
	assert.Equal(t, 1, f.Last().ConnectCalls())
}

func TestJoinRejectsMissingToken(t *testing.T) {
	m := room.NewManager(roomtest.NewFactory(nil).New, testConfig(), nil)
	req := newRequest()
	req.Token = ""

	_, err := m.Join(context.Background(), req)

	assert.ErrorIs(t, err, liveerr.ErrInvalidCredential)
}

func TestConcurrentJoinsShareOneConnection(t *testing.T) {
	releases := make(chan func(), 1)
	f := roomtest.NewFactory(func(tr *roomtest.Transport) { releases <- tr.Block() })
	m := room.NewManager(f.New, testConfig(), nil)
	req := newRequest()

	const joiners = 5
	results := make([]*room.Connection, joiners)
	var wg sync.WaitGroup
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := m.Join(context.Background(), req)
			assert.NoError(t, err)
			results[i] = c
		}(i)
	}
	release := <-releases
	time.Sleep(20 * time.Millisecond)
	release()
	wg.Wait()

	require.Len(t, f.Created(), 1)
	for _, c := range results {
		assert.Same(t, results[0], c)
	}
}

func TestLeaveCancelsPendingJoin(t *testing.T) {
	f := roomtest.NewFactory(func(tr *roomtest.Transport) { tr.Hold(true) })
	cfg := testConfig()
	cfg.JoinTimeout = 5 * time.Second
	m := room.NewManager(f.New, cfg, nil)
	req := newRequest()

	errs := make(chan error, 1)
	go func() {
		_, err := m.Join(context.Background(), req)
		errs <- err
	}()
	require.Eventually(t, func() bool {
		tr := f.Last()
		return tr != nil && tr.ConnectCalls() == 1
	}, waitFor, 5*time.Millisecond)

	m.Leave(req.SessionID, req.UserID)

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, room.ErrJoinCanceled)
	case <-time.After(waitFor):
		t.Fatal("join did not return after leave")
	}
	assert.Nil(t, m.Connection(req.SessionID, req.UserID))
}

func TestLeaveDuringMediaSetupFailsJoin(t *testing.T) {
	var release func()
	f := roomtest.NewFactory(func(tr *roomtest.Transport) { release = tr.BlockCamera() })
	cfg := testConfig()
	cfg.JoinTimeout = 5 * time.Second
	m := room.NewManager(f.New, cfg, nil)
	req := newRequest()

	errs := make(chan error, 1)
	go func() {
		c, err := m.Join(context.Background(), req)
		if err == nil && c == nil {
			err = errors.New("nil connection without error")
		}
		errs <- err
	}()
	require.Eventually(t, func() bool {
		return m.Connection(req.SessionID, req.UserID) != nil
	}, waitFor, 5*time.Millisecond)
	defer release()

	m.Leave(req.SessionID, req.UserID)

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, room.ErrJoinCanceled)
	case <-time.After(waitFor):
		t.Fatal("join did not return after leave")
	}
	assert.Nil(t, m.Connection(req.SessionID, req.UserID))
	assert.GreaterOrEqual(t, f.Last().Disconnects(), 1)
}

func TestRosterIgnoresDuplicateJoinAndUnknownLeave(t *testing.T) {
	f := roomtest.NewFactory(nil)
	m := room.NewManager(f.New, testConfig(), nil)
	c := join(t, m, newRequest())
	tr := f.Last()

	tr.Emit(room.Event{Kind: room.EventParticipantJoined, Identity: "alice"})
	tr.Emit(room.Event{Kind: room.EventParticipantJoined, Identity: "alice"})
	tr.Emit(room.Event{Kind: room.EventParticipantLeft, Identity: "mallory"})
	tr.Emit(room.Event{Kind: room.EventParticipantJoined, Identity: "bob"})

	require.Eventually(t, func() bool { return len(c.Roster()) == 3 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{c.Identity(), "alice", "bob"}, identities(c.Roster()))
}

func TestParticipantLeaveDetachesTracksBeforeRemoval(t *testing.T) {
	f := roomtest.NewFactory(nil)
	m := room.NewManager(f.New, testConfig(), nil)
	c := join(t, m, newRequest())
	tr := f.Last()

	tr.Emit(room.Event{Kind: room.EventParticipantJoined, Identity: "alice"})
	tr.Emit(room.Event{Kind: room.EventTrackPublished, Identity: "alice", Track: room.TrackInfo{SID: "v1", Kind: room.TrackVideo, Source: room.SourceCamera}})
	require.Eventually(t, func() bool {
		_, ok := c.Track("alice", room.TrackVideo)
		return ok
	}, waitFor, 5*time.Millisecond)
	p, _ := c.Participant("alice")
	assert.True(t, p.HasVideo)

	var presentDuringDetach atomic.Bool
	track := tr.Track("v1")
	track.OnDetach(func() {
		_, ok := c.Participant("alice")
		presentDuringDetach.Store(ok)
	})

	tr.Emit(room.Event{Kind: room.EventParticipantLeft, Identity: "alice"})
	require.Eventually(t, func() bool {
		_, ok := c.Participant("alice")
		return !ok
	}, waitFor, 5*time.Millisecond)

	assert.True(t, track.Detached())
	assert.True(t, presentDuringDetach.Load())
	_, ok := c.Track("alice", room.TrackVideo)
	assert.False(t, ok)
}

func TestTrackUnpublishedClearsFlags(t *testing.T) {
	f := roomtest.NewFactory(nil)
	m := room.NewManager(f.New, testConfig(), nil)
	c := join(t, m, newRequest())
	tr := f.Last()

	tr.Emit(room.Event{Kind: room.EventParticipantJoined, Identity: "alice"})
	tr.Emit(room.Event{Kind: room.EventTrackPublished, Identity: "alice", Track: room.TrackInfo{SID: "a1", Kind: room.TrackAudio, Source: room.SourceMicrophone}})
	require.Eventually(t, func() bool {
		p, _ := c.Participant("alice")
		return p.HasAudio
	}, waitFor, 5*time.Millisecond)

	tr.Emit(room.Event{Kind: room.EventTrackUnpublished, Identity: "alice", Track: room.TrackInfo{SID: "a1"}})
	require.Eventually(t, func() bool {
		p, _ := c.Participant("alice")
		return !p.HasAudio
	}, waitFor, 5*time.Millisecond)
	assert.True(t, tr.Track("a1").Detached())
}

func TestActiveSpeakersUpdateRoster(t *testing.T) {
	f := roomtest.NewFactory(nil)
	m := room.NewManager(f.New, testConfig(), nil)
	c := join(t, m, newRequest())
	tr := f.Last()

	tr.Emit(room.Event{Kind: room.EventParticipantJoined, Identity: "alice"})
	tr.Emit(room.Event{Kind: room.EventParticipantJoined, Identity: "bob"})
	tr.Emit(room.Event{Kind: room.EventActiveSpeakers, Identities: []string{"bob"}})

	require.Eventually(t, func() bool {
		p, _ := c.Participant("bob")
		return p.IsSpeaking
	}, waitFor, 5*time.Millisecond)
	p, _ := c.Participant("alice")
	assert.False(t, p.IsSpeaking)
}

func TestObserverReceivesRosterChanges(t *testing.T) {
	f := roomtest.NewFactory(nil)
	m := room.NewManager(f.New, testConfig(), nil)
	c := join(t, m, newRequest())
	tr := f.Last()

	var mu sync.Mutex
	var kinds []room.UpdateKind
	snapshot, stop := c.Observe(func(u room.Update) {
		mu.Lock()
		defer mu.Unlock()
		if u.Participant.Identity == "alice" {
			kinds = append(kinds, u.Kind)
		}
	})
	defer stop()
	assert.Len(t, snapshot, 1)

	tr.Emit(room.Event{Kind: room.EventParticipantJoined, Identity: "alice"})
	tr.Emit(room.Event{Kind: room.EventParticipantLeft, Identity: "alice"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kinds) == 2
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, []room.UpdateKind{room.UpdateParticipantJoined, room.UpdateParticipantLeft}, kinds)
}

func TestObserveSeededHoldsRosterDuringSeed(t *testing.T) {
	f := roomtest.NewFactory(nil)
	m := room.NewManager(f.New, testConfig(), nil)
	c := join(t, m, newRequest())
	tr := f.Last()

	tr.Emit(room.Event{Kind: room.EventParticipantJoined, Identity: "alice"})
	require.Eventually(t, func() bool {
		_, ok := c.Participant("alice")
		return ok
	}, waitFor, 5*time.Millisecond)

	var mu sync.Mutex
	var seeded []string
	var left []string
	stop := c.ObserveSeeded(func(roster []room.Participant) {
		go tr.Emit(room.Event{Kind: room.EventParticipantLeft, Identity: "alice"})
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		for _, p := range roster {
			seeded = append(seeded, p.Identity)
		}
	}, func(u room.Update) {
		mu.Lock()
		defer mu.Unlock()
		if u.Kind == room.UpdateParticipantLeft {
			left = append(left, u.Participant.Identity)
		}
	})
	defer stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(left) == 1
	}, waitFor, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seeded, "alice")
	assert.Equal(t, []string{"alice"}, left)
}

func TestMediaTogglesAreIdempotent(t *testing.T) {
	f := roomtest.NewFactory(nil)
	m := room.NewManager(f.New, testConfig(), nil)
	c := join(t, m, newRequest())
	tr := f.Last()
	ctx := context.Background()

	require.NoError(t, c.SetCamera(ctx, true))
	assert.Equal(t, 1, tr.EnableCalls("camera"))

	require.NoError(t, c.SetCamera(ctx, false))
	require.NoError(t, c.SetCamera(ctx, false))
	assert.Equal(t, 2, tr.EnableCalls("camera"))
	assert.False(t, c.Media().CameraOn)

	require.NoError(t, c.SetScreenShare(ctx, true))
	require.NoError(t, c.SetScreenShare(ctx, true))
	assert.Equal(t, 1, tr.EnableCalls("screen_share"))

	local, ok := c.Participant(c.Identity())
	require.True(t, ok)
	assert.True(t, local.HasVideo)
}

func TestFailedToggleKeepsState(t *testing.T) {
	f := roomtest.NewFactory(nil)
	m := room.NewManager(f.New, testConfig(), nil)
	c := join(t, m, newRequest())
	f.Last().SetScreenShareError(errors.New("permission denied"))

	err := c.SetScreenShare(context.Background(), true)

	assert.Error(t, err)
	assert.False(t, c.Media().ScreenSharing)
}

func TestJoinDegradesWhenDeviceUnavailable(t *testing.T) {
	f := roomtest.NewFactory(func(tr *roomtest.Transport) {
		tr.SetDeviceErrors(errors.New("camera permission denied"), nil)
	})
	m := room.NewManager(f.New, testConfig(), nil)

	c := join(t, m, newRequest())

	assert.True(t, c.Degraded())
	assert.Equal(t, room.MediaState{MicrophoneOn: true}, c.Media())
}

func TestDevicesAreExclusiveAcrossConnections(t *testing.T) {
	f := roomtest.NewFactory(nil)
	m := room.NewManager(f.New, testConfig(), nil)
	ctx := context.Background()

	first := join(t, m, newRequest())
	second := join(t, m, newRequest())

	assert.True(t, second.Degraded())
	assert.Equal(t, room.MediaState{}, second.Media())
	assert.ErrorIs(t, second.SetCamera(ctx, true), liveerr.ErrDevicesBusy)

	first.Leave()
	require.NoError(t, second.SetCamera(ctx, true))
	assert.True(t, second.Media().CameraOn)
}

func TestReconnectReconcilesRoster(t *testing.T) {
	f := roomtest.NewFactory(nil)
	m := room.NewManager(f.New, testConfig(), nil)
	c := join(t, m, newRequest())
	tr := f.Last()

	tr.Emit(room.Event{Kind: room.EventParticipantJoined, Identity: "alice"})
	tr.Emit(room.Event{Kind: room.EventParticipantJoined, Identity: "bob"})
	tr.Emit(room.Event{Kind: room.EventTrackPublished, Identity: "alice", Track: room.TrackInfo{SID: "v1", Kind: room.TrackVideo}})
	require.Eventually(t, func() bool {
		_, ok := c.Track("alice", room.TrackVideo)
		return ok
	}, waitFor, 5*time.Millisecond)

	tr.Drop(liveerr.ErrNetworkUnreachable)
	require.Eventually(t, func() bool { return tr.ConnectCalls() == 2 && c.State() == room.StateConnected }, waitFor, 5*time.Millisecond)
	assert.True(t, tr.Track("v1").Detached())

	tr.Emit(room.Event{Kind: room.EventRosterSync, Identities: []string{"bob", "carol"}})
	require.Eventually(t, func() bool { return len(c.Roster()) == 3 && c.Roster()[2].Identity == "carol" }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{c.Identity(), "bob", "carol"}, identities(c.Roster()))
	assert.True(t, c.Media().CameraOn)
}

func TestReconnectExhaustedIsTerminal(t *testing.T) {
	f := roomtest.NewFactory(nil)
	m := room.NewManager(f.New, testConfig(), nil)
	req := newRequest()
	c := join(t, m, req)
	tr := f.Last()

	tr.FailConnect(liveerr.ErrNetworkUnreachable, liveerr.ErrNetworkUnreachable, liveerr.ErrNetworkUnreachable)
	tr.Drop(liveerr.ErrNetworkUnreachable)

	select {
	case <-c.Done():
	case <-time.After(waitFor):
		t.Fatal("connection did not end")
	}
	assert.Equal(t, room.StateDisconnected, c.State())
	assert.ErrorIs(t, c.Err(), liveerr.ErrReconnectExhausted)
	assert.Equal(t, 4, tr.ConnectCalls())
	assert.Nil(t, m.Connection(req.SessionID, req.UserID))

	cam, mic, _ := tr.Devices()
	assert.False(t, cam)
	assert.False(t, mic)
}

func TestLeaveCompletesDespiteTransportErrors(t *testing.T) {
	f := roomtest.NewFactory(nil)
	m := room.NewManager(f.New, testConfig(), nil)
	req := newRequest()
	c := join(t, m, req)
	tr := f.Last()

	tr.Emit(room.Event{Kind: room.EventParticipantJoined, Identity: "alice"})
	tr.Emit(room.Event{Kind: room.EventTrackPublished, Identity: "alice", Track: room.TrackInfo{SID: "v1", Kind: room.TrackVideo}})
	require.Eventually(t, func() bool { return tr.Track("v1") != nil }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := c.Track("alice", room.TrackVideo)
		return ok
	}, waitFor, 5*time.Millisecond)
	tr.Track("v1").FailDetach(errors.New("sink gone"))
	tr.SetDisconnectError(errors.New("socket already closed"))

	m.Leave(req.SessionID, req.UserID)
	c.Leave()

	assert.Equal(t, room.StateDisconnected, c.State())
	assert.NoError(t, c.Err())
	assert.Empty(t, c.Roster())
	assert.Equal(t, room.MediaState{}, c.Media())
	assert.True(t, tr.Track("v1").Detached())
	assert.Nil(t, m.Connection(req.SessionID, req.UserID))
	cam, mic, _ := tr.Devices()
	assert.False(t, cam)
	assert.False(t, mic)

	assert.ErrorIs(t, c.SetCamera(context.Background(), true), liveerr.ErrNotConnected)
}
