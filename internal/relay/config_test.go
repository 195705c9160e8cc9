package relay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigProxyAuth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		user string
		pass string
		want string
	}{
		{name: "both", user: "u", pass: "p", want: "dTpw"},
		{name: "colon in password", user: "user", pass: "pa:ss", want: "dXNlcjpwYTpzcw=="},
		{name: "no password", user: "u"},
		{name: "no username", pass: "p"},
		{name: "none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Username: tt.user, Password: tt.pass}
			require.Equal(t, tt.want, cfg.ProxyAuth())
		})
	}
}

func TestConfigUpstreamAddr(t *testing.T) {
	t.Parallel()

	require.Equal(t, "proxy.example:8080", Config{UpstreamHost: "proxy.example", UpstreamPort: 8080}.UpstreamAddr())
	require.Equal(t, "[::1]:3128", Config{UpstreamHost: "::1", UpstreamPort: 3128}.UpstreamAddr())
}

func TestConfigWithDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{IdleTimeout: 5 * DefaultTeardownGrace}.withDefaults()

	require.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
	require.Equal(t, DefaultHandshakeTimeout, cfg.HandshakeTimeout)
	require.Equal(t, 5*DefaultTeardownGrace, cfg.IdleTimeout)
	require.Equal(t, DefaultTeardownGrace, cfg.TeardownGrace)
	require.Equal(t, DefaultForwardTimeout, cfg.ForwardTimeout)
	require.Equal(t, DefaultMaxHeaderBytes, cfg.MaxHeaderBytes)
	require.Equal(t, DefaultTunnelChunkSize, cfg.TunnelChunkSize)
	require.Equal(t, DefaultForwardChunkSize, cfg.ForwardChunkSize)
	require.Zero(t, cfg.TunnelLifetime)
	require.NotNil(t, cfg.Dialer)
}
