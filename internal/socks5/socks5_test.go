package socks5

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	txsocks5 "github.com/txthinking/socks5"
	"golang.org/x/sync/errgroup"
)

func TestClientDialToServer(t *testing.T) {
	tests := []struct {
		name    string
		address string
	}{
		{name: "ipv4", address: "127.0.0.1:80"},
		{name: "domain", address: "example.com:443"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			g := errgroup.Group{}
			g.Go(func() error {
				if err := ServerNegotiateNoAuth(serverConn); err != nil {
					return err
				}
				req, err := ServerReadRequest(serverConn)
				if err != nil {
					return err
				}
				if req.Cmd != CmdConnect {
					return fmt.Errorf("unexpected command: %d", req.Cmd)
				}
				if req.Address() != tt.address {
					return fmt.Errorf("unexpected address: %q", req.Address())
				}
				return WriteSuccessReply(serverConn, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345})
			})

			require.NoError(t, ClientDial(clientConn, tt.address))
			require.NoError(t, g.Wait())
		})
	}
}

func TestClientDialRefused(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	g := errgroup.Group{}
	g.Go(func() error {
		if err := ServerNegotiateNoAuth(serverConn); err != nil {
			return err
		}
		req, err := ServerReadRequest(serverConn)
		if err != nil {
			return err
		}
		WriteConnectionRefusedReply(serverConn, req.Atyp)
		return nil
	})

	err := ClientDial(clientConn, "127.0.0.1:80")
	require.True(t, errors.Is(err, ErrConnectRefused), "got %v", err)
	require.NoError(t, g.Wait())
}

func TestServerRejectsAuthOnlyClient(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	errc := make(chan error, 1)
	go func() { errc <- ServerNegotiateNoAuth(serverConn) }()

	_, err := txsocks5.NewNegotiationRequest([]byte{txsocks5.MethodUsernamePassword}).WriteTo(clientConn)
	require.NoError(t, err)

	rep, err := txsocks5.NewNegotiationReplyFrom(clientConn)
	require.NoError(t, err)
	require.Equal(t, byte(0xff), rep.Method)
	require.Error(t, <-errc)
}
