package httputil

import (
	"io"
	"net/http"
)

// RetriableStatus reports whether a request answered with statusCode may
// succeed when sent again: any 5xx, 408 and 429.
func RetriableStatus(statusCode int) bool {
	switch {
	case statusCode >= http.StatusInternalServerError:
		return true
	case statusCode == http.StatusRequestTimeout, statusCode == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// CloseResponse drains up to 2KB of the body before closing it so the
// connection can be reused.
func CloseResponse(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	const maxBodySlurpSize = 2 << 10
	_, _ = io.CopyN(io.Discard, resp.Body, maxBodySlurpSize)
	_ = resp.Body.Close()
}
