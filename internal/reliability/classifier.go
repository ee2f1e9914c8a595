package reliability

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
)

// IsRetryableHTTPStatus classifies handshake status codes the backend may
// recover from on its own.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ClassifyDialFailure names a failed websocket handshake for logs and metric
// labels. resp may be nil.
func ClassifyDialFailure(resp *http.Response, err error) (reason string, retryable bool) {
	if resp != nil {
		return "handshake_" + strconv.Itoa(resp.StatusCode), IsRetryableHTTPStatus(resp.StatusCode)
	}
	switch {
	case err == nil:
		return "none", false
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout", true
	case errors.Is(err, context.Canceled):
		return "canceled", false
	case errors.Is(err, websocket.ErrBadHandshake):
		return "bad_handshake", false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout", true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "network", true
	}
	return "error", false
}

// ClassifyDisconnect names the reason a previously open socket ended.
func ClassifyDisconnect(err error) string {
	switch {
	case err == nil:
		return "local_close"
	case websocket.IsCloseError(err, websocket.CloseNormalClosure):
		return "normal"
	case websocket.IsCloseError(err, websocket.CloseGoingAway):
		return "going_away"
	case websocket.IsCloseError(err, websocket.CloseAbnormalClosure):
		return "abnormal"
	case errors.Is(err, net.ErrClosed):
		return "local_close"
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return "eof"
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return "close_" + strconv.Itoa(closeErr.Code)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return "error"
}
