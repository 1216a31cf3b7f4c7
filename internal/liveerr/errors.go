// Package liveerr holds the error taxonomy shared by the live-session components.
package liveerr

import "errors"

// Authorization errors: never retried.
var (
	ErrForbidden        = errors.New("forbidden")
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Transport errors: retried up to policy limits, then surfaced.
var (
	ErrTimeout            = errors.New("timed out waiting for room connection")
	ErrNetworkUnreachable = errors.New("network unreachable")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrRoomUnavailable    = errors.New("room unavailable")
	ErrInvalidCredential  = errors.New("invalid room credential")
)

// State errors: caller logic bugs or races; re-fetch state instead of retrying.
var (
	ErrAlreadyRecording              = errors.New("recording already in progress")
	ErrNotRecording                  = errors.New("no recording in progress")
	ErrInvalidStreamStatusTransition = errors.New("invalid stream status transition")
	ErrRoomNameImmutable             = errors.New("room name already assigned")
	ErrNotConnected                  = errors.New("room not connected")
	ErrDevicesBusy                   = errors.New("media devices held by another room connection")
)

// Resource errors: "not ready yet, try later".
var (
	ErrRecordingNotReady       = errors.New("recording not ready")
	ErrStorageResolutionFailed = errors.New("storage resolution failed")
)

// Lookup and validation errors.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidComment = errors.New("invalid comment")
	ErrInvalidInput   = errors.New("invalid input")
)

// Category groups errors by how callers should react to them.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryAuthorization
	CategoryTransport
	CategoryState
	CategoryResource
	CategoryNotFound
	CategoryValidation
)

func (c Category) String() string {
	switch c {
	case CategoryAuthorization:
		return "authorization"
	case CategoryTransport:
		return "transport"
	case CategoryState:
		return "state"
	case CategoryResource:
		return "resource"
	case CategoryNotFound:
		return "not_found"
	case CategoryValidation:
		return "validation"
	default:
		return "unknown"
	}
}

var categories = []struct {
	err error
	cat Category
}{
	{ErrForbidden, CategoryAuthorization},
	{ErrNotAuthenticated, CategoryAuthorization},
	{ErrTimeout, CategoryTransport},
	{ErrNetworkUnreachable, CategoryTransport},
	{ErrReconnectExhausted, CategoryTransport},
	{ErrRoomUnavailable, CategoryTransport},
	{ErrInvalidCredential, CategoryTransport},
	{ErrAlreadyRecording, CategoryState},
	{ErrNotRecording, CategoryState},
	{ErrInvalidStreamStatusTransition, CategoryState},
	{ErrRoomNameImmutable, CategoryState},
	{ErrNotConnected, CategoryState},
	{ErrDevicesBusy, CategoryState},
	{ErrRecordingNotReady, CategoryResource},
	{ErrStorageResolutionFailed, CategoryResource},
	{ErrNotFound, CategoryNotFound},
	{ErrInvalidComment, CategoryValidation},
	{ErrInvalidInput, CategoryValidation},
}

// CategoryOf classifies err against the taxonomy. Wrapped errors are unwrapped.
func CategoryOf(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	for _, c := range categories {
		if errors.Is(err, c.err) {
			return c.cat
		}
	}
	return CategoryUnknown
}

// Retryable reports whether a connect attempt that failed with err may be retried.
// Invalid credentials are transport errors but a retry cannot fix them.
func Retryable(err error) bool {
	if errors.Is(err, ErrInvalidCredential) {
		return false
	}
	return CategoryOf(err) == CategoryTransport
}
