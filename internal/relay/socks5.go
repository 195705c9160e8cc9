package relay

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/die-net/authrelay/internal/metrics"
	"github.com/die-net/authrelay/internal/socks5"
)

// ServeSOCKS5 accepts unauthenticated SOCKS5 clients on ln and tunnels each
// CONNECT through the upstream proxy, for clients that cannot speak HTTP
// CONNECT.
func (s *Server) ServeSOCKS5(ln net.Listener) error {
	return s.serve(ln, s.handleSOCKS5)
}

func (s *Server) handleSOCKS5(conn net.Conn) {
	client := newCloseOnceConn(conn)
	defer client.Close()

	_ = client.SetDeadline(time.Now().Add(s.cfg.RequestTimeout))

	if err := socks5.ServerNegotiateNoAuth(client); err != nil {
		s.metrics.AbortedRequests.Inc()
		s.log.Debug("socks5 negotiation aborted", "remote", client.RemoteAddr().String(), "err", err)
		return
	}
	req, err := socks5.ServerReadRequest(client)
	if err != nil {
		s.metrics.AbortedRequests.Inc()
		s.log.Debug("socks5 request aborted", "remote", client.RemoteAddr().String(), "err", err)
		return
	}
	if req.Cmd != socks5.CmdConnect {
		socks5.WriteCommandNotSupportedReply(client, req.Atyp)
		return
	}
	_ = client.SetDeadline(time.Time{})

	target := req.Address()
	s.log.Info("request", "method", methodConnect, "target", truncate(target, maxLoggedTarget), "via", "socks5")
	s.metrics.ConnectionsTotal.WithLabelValues(metrics.KindSOCKS5).Inc()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	up, err := s.dialUpstream(ctx)
	if err != nil {
		s.metrics.UpstreamFailures.WithLabelValues(metrics.ReasonDial).Inc()
		s.log.Warn("upstream dial failed", "upstream", s.addr, "err", err)
		socks5.WriteConnectionRefusedReply(client, req.Atyp)
		return
	}
	defer up.Close()

	stop := context.AfterFunc(ctx, func() { closePair(client, up) })
	defer stop()

	_, fused, err := s.openTunnel(up, InjectProxyAuth(connectRequest(target), s.auth))
	if err != nil {
		reason := metrics.ReasonHandshake
		var se *StatusError
		if errors.As(err, &se) {
			reason = metrics.ReasonStatus
		}
		s.metrics.UpstreamFailures.WithLabelValues(reason).Inc()
		s.log.Warn("upstream refused tunnel", "target", truncate(target, maxLoggedTarget), "err", err)
		socks5.WriteConnectionRefusedReply(client, req.Atyp)
		return
	}

	if err := socks5.WriteSuccessReply(client, up.LocalAddr()); err != nil {
		s.log.Debug("client write failed", "target", truncate(target, maxLoggedTarget), "err", err)
		return
	}
	if len(fused) > 0 {
		if _, err := client.Write(fused); err != nil {
			return
		}
	}

	s.tunnel(ctx, client, up, target)
}

// connectRequest builds the CONNECT request the relay sends on behalf of a
// SOCKS5 client.
func connectRequest(target string) []byte {
	return []byte(methodConnect + " " + target + " HTTP/1.1\r\nHost: " + target + "\r\n\r\n")
}
