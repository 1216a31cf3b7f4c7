package liveerr

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aura-live/backend/pkg/response"
)

// HTTPStatus maps an error to the status code the API answers with.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrRecordingNotReady):
		return http.StatusTooEarly
	}
	switch CategoryOf(err) {
	case CategoryAuthorization:
		return http.StatusForbidden
	case CategoryTransport, CategoryResource:
		return http.StatusServiceUnavailable
	case CategoryState:
		return http.StatusConflict
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Write answers the request with the error envelope. Unknown errors are not echoed to the client.
func Write(c *gin.Context, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		response.Internal(c, "internal error")
		return
	}
	response.Fail(c, status, err.Error())
}
