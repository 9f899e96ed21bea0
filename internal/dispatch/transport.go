// Package dispatch implements the two request-forwarding strategies the
// balancer offers: a racing dispatcher for streaming chat requests
// (internal/dispatch/race.go) and a sequential failover dispatcher for
// unary requests (internal/dispatch/sequential.go). Both are grounded on
// original_source/src/backend.rs's send_request/send_request_monitored
// and original_source/src/handler.rs's handle_request_ha/
// handle_chat_parallel, reimplemented with net/http instead of
// reqwest/hyper the way the teacher's internal/proxy package builds its
// own http.Client and http.Transport (Srskip-shadowgate).
package dispatch

import (
	"context"
	"net"
	"net/http"
	"time"
)

// idleTimeoutConn resets its read deadline on every Read, so a backend
// that goes silent mid-response is torn down after idleTimeout of
// inactivity rather than running to a fixed overall deadline. This is
// the net.Conn-wrapper approach to a per-read idle timeout — simpler and
// leak-free compared to racing a goroutine against a timer on every
// Read call.
type idleTimeoutConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleTimeoutConn) Read(b []byte) (int, error) {
	if c.timeout > 0 {
		c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Read(b)
}

// NewHTTPClient builds the http.Client used to reach a single backend.
// connectTimeout bounds the TCP dial; idleTimeout (timeout_ft in
// the original) bounds how long a read may go without producing a byte.
// idleTimeout of zero disables the per-read deadline entirely, matching
// the original's "timeout_ft == 0 disables pool_idle_timeout" behaviour.
func NewHTTPClient(connectTimeout, idleTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if idleTimeout <= 0 {
				return conn, nil
			}
			return &idleTimeoutConn{Conn: conn, timeout: idleTimeout}, nil
		},
	}
	if idleTimeout > 0 {
		transport.IdleConnTimeout = idleTimeout
	}

	return &http.Client{Transport: transport}
}
