package liveerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryOf(t *testing.T) {
	wrapped := fmt.Errorf("join room-1: %w", ErrRoomUnavailable)
	assert.Equal(t, CategoryTransport, CategoryOf(wrapped))
	assert.Equal(t, CategoryAuthorization, CategoryOf(ErrForbidden))
	assert.Equal(t, CategoryState, CategoryOf(ErrAlreadyRecording))
	assert.Equal(t, CategoryResource, CategoryOf(ErrStorageResolutionFailed))
	assert.Equal(t, CategoryNotFound, CategoryOf(ErrNotFound))
	assert.Equal(t, CategoryValidation, CategoryOf(ErrInvalidComment))
	assert.Equal(t, CategoryUnknown, CategoryOf(errors.New("boom")))
	assert.Equal(t, CategoryUnknown, CategoryOf(nil))
	assert.Equal(t, "not_found", CategoryNotFound.String())
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrNetworkUnreachable))
	assert.True(t, Retryable(fmt.Errorf("dial: %w", ErrTimeout)))
	assert.False(t, Retryable(ErrInvalidCredential))
	assert.False(t, Retryable(ErrForbidden))
	assert.False(t, Retryable(errors.New("boom")))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		ErrNotAuthenticated:              http.StatusUnauthorized,
		ErrForbidden:                     http.StatusForbidden,
		ErrTimeout:                       http.StatusGatewayTimeout,
		ErrRecordingNotReady:             http.StatusTooEarly,
		ErrStorageResolutionFailed:       http.StatusServiceUnavailable,
		ErrRoomUnavailable:               http.StatusServiceUnavailable,
		ErrNotRecording:                  http.StatusConflict,
		ErrInvalidStreamStatusTransition: http.StatusConflict,
		ErrNotFound:                      http.StatusNotFound,
		ErrInvalidInput:                  http.StatusUnprocessableEntity,
		errors.New("db down"):            http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), err.Error())
	}
}

func TestWrite_HidesUnknownErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for _, tc := range []struct {
		err     error
		status  int
		message string
	}{
		{fmt.Errorf("session x: %w", ErrForbidden), http.StatusForbidden, "session x: forbidden"},
		{errors.New("pq: password authentication failed"), http.StatusInternalServerError, "internal error"},
	} {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		Write(c, tc.err)
		assert.Equal(t, tc.status, w.Code)

		var body struct {
			Success bool   `json:"success"`
			Error   string `json:"error"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.False(t, body.Success)
		assert.Equal(t, tc.message, body.Error)
	}
}
