package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var errTunnelLifetime = errors.New("tunnel lifetime exceeded")

// tunnelStats are the per-tunnel counters. Up is client to upstream.
type tunnelStats struct {
	Up   int64
	Down int64

	// Err is what ended the tunnel: nil for EOF, errTunnelLifetime, a
	// context error or the first I/O error.
	Err error
	// Stuck is set if a loop was still running after TeardownGrace.
	Stuck bool
}

func (t tunnelStats) reason() string {
	switch {
	case t.Err == nil || errors.Is(t.Err, io.EOF):
		return "eof"
	case errors.Is(t.Err, errTunnelLifetime):
		return "lifetime"
	case errors.Is(t.Err, context.Canceled), errors.Is(t.Err, context.DeadlineExceeded):
		return "shutdown"
	case isClosedErr(t.Err):
		return "closed"
	default:
		return "error"
	}
}

// relay copies bytes in both directions between client and up until either
// direction ends, the tunnel lifetime elapses or ctx is canceled. Both conns
// are closed before relay returns.
func (s *Server) relay(ctx context.Context, client, up net.Conn) tunnelStats {
	var (
		stop      atomic.Bool
		upBytes   atomic.Int64
		downBytes atomic.Int64
	)

	done := make(chan error, 2)
	var g errgroup.Group
	g.Go(func() error {
		err := s.pipe(up, client, &stop, &upBytes)
		done <- err
		return err
	})
	g.Go(func() error {
		err := s.pipe(client, up, &stop, &downBytes)
		done <- err
		return err
	})

	var lifetime <-chan time.Time
	if s.cfg.TunnelLifetime > 0 {
		t := time.NewTimer(s.cfg.TunnelLifetime)
		defer t.Stop()
		lifetime = t.C
	}

	var stats tunnelStats
	select {
	case stats.Err = <-done:
	case <-lifetime:
		stats.Err = errTunnelLifetime
	case <-ctx.Done():
		stats.Err = ctx.Err()
	}

	// Closing both sockets is what unblocks the other loop.
	stop.Store(true)
	closePair(client, up)

	waited := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(waited)
	}()

	grace := time.NewTimer(s.cfg.TeardownGrace)
	defer grace.Stop()
	select {
	case <-waited:
	case <-grace.C:
		stats.Stuck = true
	}

	stats.Up = upBytes.Load()
	stats.Down = downBytes.Load()
	return stats
}

// pipe copies src to dst one chunk at a time. Idle read deadlines are not
// errors; the loop rechecks stop and reads again. It returns nil on EOF.
func (s *Server) pipe(dst, src net.Conn, stop *atomic.Bool, n *atomic.Int64) error {
	bp := s.tunnelBufs.Get()
	defer s.tunnelBufs.Put(bp)
	buf := *bp

	for !stop.Load() {
		_ = src.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			n.Add(int64(nw))
			if werr != nil {
				return werr
			}
		}
		if rerr != nil {
			if isTimeout(rerr) {
				continue
			}
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return rerr
		}
	}
	return nil
}
