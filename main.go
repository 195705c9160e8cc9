package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/authrelay/internal/dialer"
	"github.com/die-net/authrelay/internal/metrics"
	"github.com/die-net/authrelay/internal/relay"
)

const usage = `Usage: authrelay [flags] <local_port> <upstream_host> <upstream_port> [username] [password]

Listens on 127.0.0.1:<local_port> as an unauthenticated HTTP proxy and forwards
every request to the upstream proxy, adding Proxy-Authorization when both
username and password are given.

Flags:
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		requestTimeout   = pflag.Duration("request-timeout", relay.DefaultRequestTimeout, "Idle timeout while reading a client's request header")
		dialTimeout      = pflag.Duration("dial-timeout", relay.DefaultDialTimeout, "Timeout for connecting to the upstream proxy")
		handshakeTimeout = pflag.Duration("handshake-timeout", relay.DefaultHandshakeTimeout, "Timeout for the upstream's CONNECT response")
		idleTimeout      = pflag.Duration("idle-timeout", relay.DefaultIdleTimeout, "Per-read idle timeout inside a tunnel; expiry only rechecks for shutdown")
		tunnelLifetime   = pflag.Duration("tunnel-lifetime", relay.DefaultTunnelLifetime, "Maximum lifetime of a CONNECT tunnel (0 disables)")
		teardownGrace    = pflag.Duration("teardown-grace", relay.DefaultTeardownGrace, "How long to wait for both tunnel directions to stop after teardown")
		forwardTimeout   = pflag.Duration("forward-timeout", relay.DefaultForwardTimeout, "Per-read timeout for plain HTTP responses from the upstream")
		tcpKeepAlive     = pflag.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")

		socksListen = pflag.String("socks5-listen", "", "Also accept SOCKS5 CONNECT clients on this address (e.g. 127.0.0.1:1080). Empty disables.")
		debugListen = pflag.String("debug-listen", "", "Debug HTTP listen address exposing /metrics and /debug/pprof (e.g. 127.0.0.1:6060). Empty disables.")
		logFormat   = pflag.String("log-format", "text", "Log format: text|json")
		verbose     = pflag.Bool("verbose", false, "Enable per-connection debug logging")
	)

	pflag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		pflag.PrintDefaults()
	}
	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	logger, err := newLogger(*logFormat, *verbose)
	if err != nil {
		return err
	}

	ka, err := parseTCPKeepAlive(*tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	cfg, localPort, err := parseArgs(pflag.Args())
	if err != nil {
		pflag.Usage()
		return err
	}
	cfg.RequestTimeout = *requestTimeout
	cfg.HandshakeTimeout = *handshakeTimeout
	cfg.IdleTimeout = *idleTimeout
	cfg.TunnelLifetime = *tunnelLifetime
	cfg.TeardownGrace = *teardownGrace
	cfg.ForwardTimeout = *forwardTimeout
	cfg.KeepAlive = ka
	cfg.Dialer = dialer.NewDirectDialer(dialer.Config{
		DialTimeout: *dialTimeout,
		KeepAlive:   ka,
	})

	m := metrics.New()

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := relay.NewServer(ctx, cfg, logger, m)

	if *debugListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/debug/", http.DefaultServeMux)
		mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

		debugSrv := &http.Server{Handler: mux} //nolint:gosec // Not concerned about timeouts on debug port.
		lc := net.ListenConfig{KeepAliveConfig: ka}
		debugLn, err := lc.Listen(ctx, "tcp", *debugListen)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		logger.Info("debug listening", "addr", *debugListen)
	}

	listenAddr := net.JoinHostPort("127.0.0.1", strconv.Itoa(int(localPort)))
	ln, err := relay.ListenTCP(ctx, listenAddr, ka)
	if err != nil {
		return err
	}
	context.AfterFunc(ctx, func() { _ = ln.Close() })

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil {
			return fmt.Errorf("relay serve: %w", err)
		}
		return nil
	})
	logger.Info("relay listening", "addr", listenAddr, "upstream", cfg.UpstreamAddr(), "auth", cfg.ProxyAuth() != "")

	if *socksListen != "" {
		sln, err := relay.ListenTCP(ctx, *socksListen, ka)
		if err != nil {
			return fmt.Errorf("socks5 %w", err)
		}
		context.AfterFunc(ctx, func() { _ = sln.Close() })

		g.Go(func() error {
			if err := srv.ServeSOCKS5(sln); err != nil {
				return fmt.Errorf("socks5 serve: %w", err)
			}
			return nil
		})
		logger.Info("socks5 listening", "addr", *socksListen)
	}

	err = g.Wait()

	logger.Info("shutting down")
	return err
}

// parseArgs reads <local_port> <upstream_host> <upstream_port> [username]
// [password].
func parseArgs(args []string) (relay.Config, uint16, error) {
	if len(args) < 3 || len(args) > 5 {
		return relay.Config{}, 0, fmt.Errorf("expected 3 to 5 arguments, got %d", len(args))
	}

	localPort, err := parsePort(args[0])
	if err != nil {
		return relay.Config{}, 0, fmt.Errorf("invalid local_port: %w", err)
	}

	host := strings.TrimSpace(args[1])
	if host == "" {
		return relay.Config{}, 0, errors.New("invalid upstream_host: empty")
	}

	upstreamPort, err := parsePort(args[2])
	if err != nil {
		return relay.Config{}, 0, fmt.Errorf("invalid upstream_port: %w", err)
	}

	cfg := relay.Config{UpstreamHost: host, UpstreamPort: upstreamPort}
	if len(args) > 3 {
		cfg.Username = args[3]
	}
	if len(args) > 4 {
		cfg.Password = args[4]
	}
	return cfg, localPort, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errors.New("must be > 0")
	}
	return uint16(n), nil
}

func newLogger(format string, verbose bool) (*slog.Logger, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(format) {
	case "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("invalid --log-format %q: expected text or json", format)
	}
	return slog.New(h), nil
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveSeconds(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveSeconds(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepIdle,
		Interval: keepIntvl,
		Count:    keepCnt,
	}, nil
}

func parsePositiveSeconds(s string) (time.Duration, error) {
	n, err := parsePositiveInt(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}
