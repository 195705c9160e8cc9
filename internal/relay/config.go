package relay

import (
	"encoding/base64"
	"net"
	"strconv"
	"time"

	"github.com/die-net/authrelay/internal/dialer"
)

// Default tunables applied by Config.withDefaults for zero fields.
const (
	DefaultRequestTimeout   = 10 * time.Second
	DefaultDialTimeout      = 15 * time.Second
	DefaultHandshakeTimeout = 15 * time.Second
	DefaultIdleTimeout      = 30 * time.Second
	DefaultTunnelLifetime   = 180 * time.Second
	DefaultTeardownGrace    = 3 * time.Second
	DefaultForwardTimeout   = 30 * time.Second

	DefaultMaxHeaderBytes   = 64 << 10
	DefaultTunnelChunkSize  = 32 << 10
	DefaultForwardChunkSize = 8 << 10
)

// Config is the immutable relay configuration, built once at start-up.
type Config struct {
	UpstreamHost string
	UpstreamPort uint16

	// Credentials are injected only if both are non-empty.
	Username string
	Password string

	// RequestTimeout bounds each read of the client's request header.
	RequestTimeout time.Duration
	// HandshakeTimeout bounds reading the upstream's CONNECT response.
	HandshakeTimeout time.Duration
	// IdleTimeout is the per-read deadline inside a tunnel. Expiry is not an
	// error; the loop checks for shutdown and reads again.
	IdleTimeout time.Duration
	// TunnelLifetime caps the total life of a tunnel. Zero means no cap.
	TunnelLifetime time.Duration
	// TeardownGrace bounds the wait for both tunnel loops after teardown.
	TeardownGrace time.Duration
	// ForwardTimeout bounds each upstream read on the plain HTTP path.
	ForwardTimeout time.Duration

	MaxHeaderBytes   int
	TunnelChunkSize  int
	ForwardChunkSize int

	KeepAlive net.KeepAliveConfig

	// Dialer reaches the upstream proxy. NewServer uses a direct dialer
	// bounded by DefaultDialTimeout when nil.
	Dialer dialer.Dialer
}

// UpstreamAddr returns the upstream proxy's host:port.
func (c Config) UpstreamAddr() string {
	return net.JoinHostPort(c.UpstreamHost, strconv.Itoa(int(c.UpstreamPort)))
}

// ProxyAuth returns the base64 Basic token for the configured credentials,
// or "" when injection is disabled.
func (c Config) ProxyAuth() string {
	if c.Username == "" || c.Password == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.Password))
}

func (c Config) withDefaults() Config {
	setDuration(&c.RequestTimeout, DefaultRequestTimeout)
	setDuration(&c.HandshakeTimeout, DefaultHandshakeTimeout)
	setDuration(&c.IdleTimeout, DefaultIdleTimeout)
	setDuration(&c.TeardownGrace, DefaultTeardownGrace)
	setDuration(&c.ForwardTimeout, DefaultForwardTimeout)
	setInt(&c.MaxHeaderBytes, DefaultMaxHeaderBytes)
	setInt(&c.TunnelChunkSize, DefaultTunnelChunkSize)
	setInt(&c.ForwardChunkSize, DefaultForwardChunkSize)
	if c.Dialer == nil {
		c.Dialer = dialer.NewDirectDialer(dialer.Config{
			DialTimeout: DefaultDialTimeout,
			KeepAlive:   c.KeepAlive,
		})
	}
	return c
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

func setInt(n *int, def int) {
	if *n <= 0 {
		*n = def
	}
}
