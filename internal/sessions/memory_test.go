package sessions

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-live/backend/internal/liveerr"
	"github.com/aura-live/backend/internal/models"
)

func newSession(t *testing.T, store Store) *models.Session {
	t.Helper()
	s := &models.Session{
		Kind:           models.SessionKindBooking,
		Title:          "Breathwork 1:1",
		ProviderID:     uuid.New(),
		ParticipantIDs: []uuid.UUID{uuid.New()},
	}
	require.NoError(t, store.CreateSession(context.Background(), s))
	return s
}

func TestStreamStatusIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := newSession(t, store)
	assert.Equal(t, models.StreamStatusNotStarted, s.StreamStatus)

	got, err := store.SetStreamStatus(ctx, s.ID, models.StreamStatusLive)
	require.NoError(t, err)
	assert.Equal(t, models.StreamStatusLive, got.StreamStatus)

	_, err = store.SetStreamStatus(ctx, s.ID, models.StreamStatusNotStarted)
	assert.ErrorIs(t, err, liveerr.ErrInvalidStreamStatusTransition)

	_, err = store.SetStreamStatus(ctx, s.ID, models.StreamStatusEnded)
	require.NoError(t, err)

	for _, back := range []models.StreamStatus{models.StreamStatusLive, models.StreamStatusNotStarted} {
		_, err = store.SetStreamStatus(ctx, s.ID, back)
		assert.ErrorIs(t, err, liveerr.ErrInvalidStreamStatusTransition)
	}
	got, err = store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StreamStatusEnded, got.StreamStatus)

	// ending twice is a no-op, not an error
	_, err = store.SetStreamStatus(ctx, s.ID, models.StreamStatusEnded)
	assert.NoError(t, err)
}

func TestRoomNameAssignedOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := newSession(t, store)

	first, err := ProvisionRoom(ctx, store, s.ID)
	require.NoError(t, err)
	assert.Equal(t, RoomNameFor(s.ID), first.RoomName)

	again, err := ProvisionRoom(ctx, store, s.ID)
	require.NoError(t, err)
	assert.Equal(t, first.RoomName, again.RoomName)

	other := "room-other"
	_, err = store.PatchSession(ctx, s.ID, models.SessionPatch{RoomName: &other})
	assert.ErrorIs(t, err, liveerr.ErrRoomNameImmutable)
}

func TestAttachRecordingHelpers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := newSession(t, store)

	got, err := UpdateStreamStatus(ctx, store, s.ID, models.StreamStatusLive, "rec-42")
	require.NoError(t, err)
	assert.Equal(t, "rec-42", got.Recording.ExternalID)
	assert.Equal(t, models.RecordingInProgress, got.Recording.State())

	got, err = AttachRecordingURL(ctx, store, s.ID, "https://cdn.example/rec-42.mp4")
	require.NoError(t, err)
	assert.Equal(t, models.RecordingAvailable, got.Recording.State())

	got, err = AttachRecordingURL(ctx, store, s.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/rec-42.mp4", got.Recording.URL)

	got, err = AttachRecordingStorageRef(ctx, store, s.ID, "recordings/x/rec-42.mp4")
	require.NoError(t, err)
	assert.Equal(t, "recordings/x/rec-42.mp4", got.Recording.StorageKey)
}

func TestGetSessionReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := newSession(t, store)

	got, err := store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	got.ParticipantIDs[0] = uuid.Nil
	got.StreamStatus = models.StreamStatusEnded

	again, err := store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, again.ParticipantIDs[0])
	assert.Equal(t, models.StreamStatusNotStarted, again.StreamStatus)

	_, err = store.GetSession(ctx, uuid.New())
	assert.ErrorIs(t, err, liveerr.ErrNotFound)
}
