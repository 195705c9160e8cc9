package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/die-net/authrelay/internal/metrics"
)

const (
	methodConnect = "CONNECT"

	maxLoggedTarget = 60

	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Server relays local, unauthenticated HTTP proxy requests to an upstream
// proxy that requires credentials.
//
// Every accepted connection is handled in its own goroutine. CONNECT
// requests become opaque tunnels; anything else is forwarded as plain HTTP.
// No error on one connection affects the listener or other connections.
type Server struct {
	ctx     context.Context
	cfg     Config
	auth    string
	addr    string
	log     *slog.Logger
	metrics *metrics.Metrics

	tunnelBufs  *bufferPool
	forwardBufs *bufferPool
}

// NewServer constructs a relay. Canceling ctx tears down every open
// connection; Serve returns once its listener is closed.
func NewServer(ctx context.Context, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	cfg = cfg.withDefaults()
	return &Server{
		ctx:         ctx,
		cfg:         cfg,
		auth:        cfg.ProxyAuth(),
		addr:        cfg.UpstreamAddr(),
		log:         logger,
		metrics:     m,
		tunnelBufs:  newBufferPool(cfg.TunnelChunkSize),
		forwardBufs: newBufferPool(cfg.ForwardChunkSize),
	}
}

// Serve accepts HTTP proxy clients on ln.
func (s *Server) Serve(ln net.Listener) error {
	return s.serve(ln, s.handle)
}

func (s *Server) serve(ln net.Listener, handle func(net.Conn)) error {
	var backoff time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				if s.ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}

			// Anything else is treated as transient (EMFILE, ECONNABORTED).
			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(2*backoff, maxAcceptBackoff)
			}
			s.log.Warn("accept failed", "err", err, "retry_in", backoff)

			select {
			case <-time.After(backoff):
			case <-s.ctx.Done():
				return nil
			}
			continue
		}
		backoff = 0

		go func() {
			defer s.recoverHandler(c)
			handle(c)
		}()
	}
}

func (s *Server) recoverHandler(c net.Conn) {
	if r := recover(); r != nil {
		s.log.Error("connection handler panic", "remote", c.RemoteAddr().String(), "panic", r)
		_ = c.Close()
	}
}

// handle runs one client connection from its first byte to teardown.
func (s *Server) handle(conn net.Conn) {
	client := newCloseOnceConn(conn)
	defer client.Close()

	req, err := readHeader(client, s.cfg.RequestTimeout, s.cfg.MaxHeaderBytes)
	if err != nil {
		s.metrics.AbortedRequests.Inc()
		s.log.Debug("request aborted", "remote", client.RemoteAddr().String(), "err", err)
		return
	}

	method, target := ParseRequestLine(req)
	connect := strings.EqualFold(method, methodConnect)
	s.log.Info("request", "method", method, "target", truncate(target, maxLoggedTarget))

	kind := metrics.KindHTTP
	if connect {
		kind = metrics.KindConnect
	}
	s.metrics.ConnectionsTotal.WithLabelValues(kind).Inc()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	up, err := s.dialUpstream(ctx)
	if err != nil {
		s.metrics.UpstreamFailures.WithLabelValues(metrics.ReasonDial).Inc()
		s.log.Warn("upstream dial failed", "upstream", s.addr, "err", err)
		s.writeBadGateway(client)
		return
	}
	defer up.Close()

	stop := context.AfterFunc(ctx, func() { closePair(client, up) })
	defer stop()

	req = InjectProxyAuth(req, s.auth)

	if connect {
		s.handleConnect(ctx, client, up, req, target)
		return
	}
	s.forward(client, up, req)
}

func (s *Server) dialUpstream(ctx context.Context) (*closeOnceConn, error) {
	c, err := s.cfg.Dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return nil, err
	}
	return newCloseOnceConn(c), nil
}

// writeBadGateway sends the synthesized 502. Failure to write is ignored.
func (s *Server) writeBadGateway(c net.Conn) {
	_ = c.SetWriteDeadline(time.Now().Add(s.cfg.RequestTimeout))
	_, _ = c.Write(badGatewayResponse)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
