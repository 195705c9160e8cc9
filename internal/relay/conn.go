package relay

import (
	"errors"
	"io"
	"net"
	"sync"
	"syscall"
)

// closeOnceConn makes Close idempotent and safe to call from several
// goroutines. Only the first call reaches the underlying conn; later calls
// return nil.
type closeOnceConn struct {
	net.Conn

	once sync.Once
	err  error
}

func newCloseOnceConn(c net.Conn) *closeOnceConn {
	if co, ok := c.(*closeOnceConn); ok {
		return co
	}
	return &closeOnceConn{Conn: c}
}

func (c *closeOnceConn) Close() error {
	first := false
	c.once.Do(func() {
		first = true
		c.err = c.Conn.Close()
	})
	if !first {
		return nil
	}
	return c.err
}

// closePair closes both conns, ignoring errors.
func closePair(a, b net.Conn) {
	_ = a.Close()
	_ = b.Close()
}

// isClosedErr reports whether err is an ordinary way for a relayed stream to
// end: EOF, a closed socket, a reset or a broken pipe.
func isClosedErr(err error) bool {
	return err == nil ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// isTimeout reports whether err is a deadline expiry.
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
