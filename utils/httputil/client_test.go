package httputil_test

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spec-sa/netsync/utils/httputil"
)

func TestRetriableStatus(t *testing.T) {
	retriable := []int{
		http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusNotImplemented,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
	}
	for _, code := range retriable {
		require.Truef(t, httputil.RetriableStatus(code), "%d should be retried", code)
	}

	final := []int{
		http.StatusOK,
		http.StatusNoContent,
		http.StatusMovedPermanently,
		http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusUnprocessableEntity,
	}
	for _, code := range final {
		require.Falsef(t, httputil.RetriableStatus(code), "%d should not be retried", code)
	}
}

type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

func TestCloseResponse(t *testing.T) {
	httputil.CloseResponse(nil)
	httputil.CloseResponse(&http.Response{})

	body := &trackingBody{Reader: strings.NewReader(strings.Repeat("x", 4096))}
	httputil.CloseResponse(&http.Response{Body: body})
	require.True(t, body.closed)

	rest, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Len(t, rest, 4096-2048)
}
