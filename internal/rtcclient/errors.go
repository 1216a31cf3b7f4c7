package rtcclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aura-live/backend/internal/liveerr"
)

// ErrNoDevice is returned when a local source has no media configured.
var ErrNoDevice = errors.New("no media device")

// dialError maps a failed websocket handshake onto the room error taxonomy.
func dialError(err error, resp *http.Response) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	if resp != nil {
		reason := responseReason(resp)
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", liveerr.ErrInvalidCredential, reason)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %s", liveerr.ErrForbidden, reason)
		case http.StatusNotFound, http.StatusGone:
			return fmt.Errorf("%w: %s", liveerr.ErrRoomUnavailable, reason)
		case http.StatusBadRequest:
			return fmt.Errorf("%w: %s", liveerr.ErrInvalidInput, reason)
		}
	}
	return fmt.Errorf("%w: %v", liveerr.ErrNetworkUnreachable, err)
}

func responseReason(resp *http.Response) string {
	if resp.Body == nil {
		return resp.Status
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if s := strings.TrimSpace(string(b)); s != "" {
		return s
	}
	return resp.Status
}
