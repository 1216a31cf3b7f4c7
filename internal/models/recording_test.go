package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestRecordingRefState(t *testing.T) {
	now := time.Now()
	assert.Equal(t, RecordingNotStarted, RecordingRef{}.State())
	assert.Equal(t, RecordingInProgress, RecordingRef{ExternalID: "rec-1"}.State())
	assert.Equal(t, RecordingProcessing, RecordingRef{ExternalID: "rec-1", URLPending: true}.State())
	assert.Equal(t, RecordingProcessing, RecordingRef{ExternalID: "rec-1", StoppedAt: &now}.State())
	assert.Equal(t, RecordingAvailable, RecordingRef{ExternalID: "rec-1", URL: "https://cdn/x.mp4"}.State())
	assert.Equal(t, RecordingAvailable, RecordingRef{ExternalID: "rec-1", URLPending: true, StorageKey: "recordings/a/b.mp4"}.State())
}

func TestRecordingRefMerge(t *testing.T) {
	ref := RecordingRef{}.Merge(RecordingPatch{ExternalID: strPtr("rec-1")})
	assert.Equal(t, "rec-1", ref.ExternalID)

	ref = ref.Merge(RecordingPatch{URLPending: boolPtr(true)})
	assert.True(t, ref.URLPending)
	_, ok := ref.PlayableURL()
	assert.False(t, ok)

	ref = ref.Merge(RecordingPatch{URL: strPtr("https://cdn/rec-1.mp4")})
	url, ok := ref.PlayableURL()
	assert.True(t, ok)
	assert.Equal(t, "https://cdn/rec-1.mp4", url)

	// empty values and late placeholders never clobber a real URL
	ref = ref.Merge(RecordingPatch{URL: strPtr(""), StorageKey: strPtr("")})
	assert.Equal(t, "https://cdn/rec-1.mp4", ref.URL)
	ref = ref.Merge(RecordingPatch{URL: strPtr("processing"), URLPending: boolPtr(true)})
	assert.Equal(t, "https://cdn/rec-1.mp4", ref.URL)
	assert.False(t, ref.URLPending)

	// a new external id starts over
	ref = ref.Merge(RecordingPatch{ExternalID: strPtr("rec-2")})
	assert.Equal(t, RecordingRef{ExternalID: "rec-2"}, ref)
}

func TestStreamStatusTransitions(t *testing.T) {
	assert.True(t, StreamStatusNotStarted.CanTransitionTo(StreamStatusLive))
	assert.True(t, StreamStatusLive.CanTransitionTo(StreamStatusEnded))
	assert.True(t, StreamStatusNotStarted.CanTransitionTo(StreamStatusEnded))
	assert.True(t, StreamStatusLive.CanTransitionTo(StreamStatusLive))
	assert.False(t, StreamStatusLive.CanTransitionTo(StreamStatusNotStarted))
	assert.False(t, StreamStatusEnded.CanTransitionTo(StreamStatusLive))
	assert.False(t, StreamStatusEnded.CanTransitionTo(StreamStatusNotStarted))
	assert.False(t, StreamStatus("PAUSED").CanTransitionTo(StreamStatusLive))
}
