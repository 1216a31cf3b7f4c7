package models

import "time"

// RecordingState is the tagged lifecycle of a session recording.
type RecordingState string

const (
	RecordingNotStarted RecordingState = "not_started"
	RecordingInProgress RecordingState = "in_progress"
	RecordingProcessing RecordingState = "processing"
	RecordingAvailable  RecordingState = "available"
)

// RecordingRef points at a session's recording artifact. It is populated
// incrementally: external id on start, pending marker on stop, URL and/or
// storage key once finalization completes.
type RecordingRef struct {
	ExternalID string     `json:"external_id,omitempty"`
	URL        string     `json:"url,omitempty"`
	URLPending bool       `json:"url_pending,omitempty"`
	StorageKey string     `json:"storage_key,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
}

// State derives the recording lifecycle state.
func (r RecordingRef) State() RecordingState {
	switch {
	case r.ExternalID == "":
		return RecordingNotStarted
	case r.StorageKey != "" || (r.URL != "" && !r.URLPending):
		return RecordingAvailable
	case r.URLPending || r.StoppedAt != nil:
		return RecordingProcessing
	default:
		return RecordingInProgress
	}
}

// PlayableURL returns the direct URL when it is a real, downloadable one.
func (r RecordingRef) PlayableURL() (string, bool) {
	if r.URL == "" || r.URLPending {
		return "", false
	}
	return r.URL, true
}

// RecordingPatch is a partial update to a RecordingRef; nil fields are left unchanged.
type RecordingPatch struct {
	ExternalID *string
	URL        *string
	URLPending *bool
	StorageKey *string
	StartedAt  *time.Time
	StoppedAt  *time.Time
}

// Merge applies p to r. A different external id starts a fresh ref; an empty URL
// or storage key never overwrites a populated one; a real URL clears the pending marker.
func (r RecordingRef) Merge(p RecordingPatch) RecordingRef {
	out := r
	if p.ExternalID != nil && *p.ExternalID != "" && *p.ExternalID != r.ExternalID {
		out = RecordingRef{ExternalID: *p.ExternalID}
	}
	if p.StartedAt != nil {
		out.StartedAt = p.StartedAt
	}
	if p.StoppedAt != nil {
		out.StoppedAt = p.StoppedAt
	}
	pending := p.URLPending != nil && *p.URLPending
	_, playable := out.PlayableURL()
	switch {
	case p.URL != nil && *p.URL != "" && !pending:
		out.URL = *p.URL
		out.URLPending = false
	case p.URL != nil && *p.URL != "" && !playable:
		out.URL = *p.URL
		out.URLPending = true
	case pending && !playable:
		out.URLPending = true
	}
	if p.StorageKey != nil && *p.StorageKey != "" {
		out.StorageKey = *p.StorageKey
	}
	return out
}
