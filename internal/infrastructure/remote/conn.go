package remote

import (
	"context"
	"net"
	"time"
)

// deadlineConn refreshes its read deadline before every read, so a stalled
// socket fails after timeout even while the response body is being streamed.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

func deadlineDialer(timeout time.Duration) dialFunc {
	d := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		return &deadlineConn{Conn: conn, timeout: timeout}, nil
	}
}
