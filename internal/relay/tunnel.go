package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/die-net/authrelay/internal/metrics"
)

// StatusError is returned when the upstream answers CONNECT with anything
// other than 200. Response holds every byte read from the upstream so far.
type StatusError struct {
	Status   string
	Response []byte
}

func (e *StatusError) Error() string {
	return "upstream refused tunnel: " + e.Status
}

// openTunnel sends the CONNECT request to up and reads the response header.
//
// On success, header is the upstream's own response up to and including the
// blank line and fused is whatever arrived after it in the same reads; fused
// belongs to the tunnel and must reach the client right after header.
func (s *Server) openTunnel(up net.Conn, req []byte) (header, fused []byte, err error) {
	_ = up.SetWriteDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	if _, err := up.Write(req); err != nil {
		return nil, nil, fmt.Errorf("write connect: %w", err)
	}
	_ = up.SetWriteDeadline(time.Time{})

	resp, err := readHeader(up, s.cfg.HandshakeTimeout, s.cfg.MaxHeaderBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("read connect response: %w", err)
	}

	if statusCode(resp) != "200" {
		return nil, nil, &StatusError{Status: statusLine(resp), Response: resp}
	}

	header, fused, _ = splitHeader(resp)
	return header, fused, nil
}

// handleConnect completes the CONNECT handshake for client and then relays
// bytes until the tunnel ends.
func (s *Server) handleConnect(ctx context.Context, client, up net.Conn, req []byte, target string) {
	header, fused, err := s.openTunnel(up, req)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			s.metrics.UpstreamFailures.WithLabelValues(metrics.ReasonStatus).Inc()
			s.log.Warn("upstream refused tunnel", "target", truncate(target, maxLoggedTarget), "status", se.Status)
			// Pass the upstream's own answer through so the client sees
			// the real 407 or 403.
			_, _ = client.Write(se.Response)
			return
		}
		s.metrics.UpstreamFailures.WithLabelValues(metrics.ReasonHandshake).Inc()
		s.log.Warn("upstream handshake failed", "target", truncate(target, maxLoggedTarget), "err", err)
		s.writeBadGateway(client)
		return
	}

	s.log.Debug("tunnel established", "target", truncate(target, maxLoggedTarget), "status", statusLine(header))

	if err := s.writeHandshake(client, header, fused); err != nil {
		s.log.Debug("client write failed", "target", truncate(target, maxLoggedTarget), "err", err)
		return
	}

	s.tunnel(ctx, client, up, target)
}

// writeHandshake writes the upstream's response header and then any fused
// tunnel bytes, in that order.
func (s *Server) writeHandshake(client net.Conn, header, fused []byte) error {
	if _, err := client.Write(header); err != nil {
		return err
	}
	if len(fused) == 0 {
		return nil
	}
	s.log.Debug("forwarding fused tunnel bytes", "bytes", len(fused))
	_, err := client.Write(fused)
	return err
}

// tunnel relays between client and up, then records the session.
func (s *Server) tunnel(ctx context.Context, client, up net.Conn, target string) {
	s.metrics.ActiveTunnels.Inc()
	defer s.metrics.ActiveTunnels.Dec()

	start := time.Now()
	stats := s.relay(ctx, client, up)
	elapsed := time.Since(start)

	s.metrics.ObserveTunnel(stats.Up, stats.Down, elapsed.Seconds())

	attrs := []any{
		"target", truncate(target, maxLoggedTarget),
		"up", stats.Up,
		"down", stats.Down,
		"duration", elapsed.Round(time.Millisecond),
		"reason", stats.reason(),
	}
	if stats.Stuck {
		s.log.Warn("tunnel loops outlived teardown grace", attrs...)
	}
	if stats.reason() == "error" {
		s.log.Debug("tunnel error", "target", truncate(target, maxLoggedTarget), "err", stats.Err)
	}
	s.log.Info("tunnel closed", attrs...)
}
