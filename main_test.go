package main

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantPort uint16
		wantAddr string
		wantAuth string
		wantErr  bool
	}{
		{
			name:     "no credentials",
			args:     []string{"8899", "proxy.example", "3128"},
			wantPort: 8899,
			wantAddr: "proxy.example:3128",
		},
		{
			name:     "credentials",
			args:     []string{"8899", "proxy.example", "3128", "u", "p"},
			wantPort: 8899,
			wantAddr: "proxy.example:3128",
			wantAuth: "dTpw",
		},
		{
			name:     "username only is not injected",
			args:     []string{"8899", "proxy.example", "3128", "u"},
			wantPort: 8899,
			wantAddr: "proxy.example:3128",
		},
		{name: "too few", args: []string{"8899", "proxy.example"}, wantErr: true},
		{name: "too many", args: []string{"1", "h", "2", "u", "p", "x"}, wantErr: true},
		{name: "bad local port", args: []string{"http", "proxy.example", "3128"}, wantErr: true},
		{name: "zero local port", args: []string{"0", "proxy.example", "3128"}, wantErr: true},
		{name: "upstream port out of range", args: []string{"8899", "proxy.example", "70000"}, wantErr: true},
		{name: "empty host", args: []string{"8899", " ", "3128"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, port, err := parseArgs(tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantPort, port)
			require.Equal(t, tt.wantAddr, cfg.UpstreamAddr())
			require.Equal(t, tt.wantAuth, cfg.ProxyAuth())
		})
	}
}

func TestParseTCPKeepAlive(t *testing.T) {
	tests := []struct {
		in      string
		want    net.KeepAliveConfig
		wantErr bool
	}{
		{in: "on", want: net.KeepAliveConfig{Enable: true}},
		{in: " OFF ", want: net.KeepAliveConfig{}},
		{in: "45:45:3", want: net.KeepAliveConfig{Enable: true, Idle: 45 * time.Second, Interval: 45 * time.Second, Count: 3}},
		{in: "", wantErr: true},
		{in: "1:2", wantErr: true},
		{in: "0:1:1", wantErr: true},
		{in: "a:1:1", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseTCPKeepAlive(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"text", "JSON"} {
		l, err := newLogger(format, true)
		require.NoError(t, err)
		require.NotNil(t, l)
	}

	_, err := newLogger("xml", false)
	require.Error(t, err)
}
