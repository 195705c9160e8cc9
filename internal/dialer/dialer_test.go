package dialer

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/die-net/authrelay/internal/testutil"
)

func TestDirectDialerDialSuccess(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(ctx, t)
	defer echoLn.Close()

	d := NewDirectDialer(Config{DialTimeout: 2 * time.Second})

	conn, err := d.DialContext(ctx, "tcp", echoLn.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	testutil.AssertEcho(t, conn, conn, []byte("hello"))
}

func TestDirectDialerDialRefused(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	addr := testutil.UnusedAddr(ctx, t)

	d := NewDirectDialer(Config{DialTimeout: 2 * time.Second})

	_, err := d.DialContext(ctx, "tcp", addr)
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), "dial tcp "+addr), "got %q", err.Error())

	var opErr *net.OpError
	require.True(t, errors.As(err, &opErr), "expected wrapped *net.OpError, got %T", err)
}

func TestDirectDialerContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDirectDialer(Config{DialTimeout: 2 * time.Second})

	_, err := d.DialContext(ctx, "tcp", "127.0.0.1:1")
	require.Error(t, err)
}

func TestDialerFunc(t *testing.T) {
	want := errors.New("boom")

	var gotNetwork, gotAddress string
	var d Dialer = DialerFunc(func(_ context.Context, network, address string) (net.Conn, error) {
		gotNetwork, gotAddress = network, address
		return nil, want
	})

	_, err := d.DialContext(context.Background(), "tcp", "proxy.example:3128")
	require.ErrorIs(t, err, want)
	require.Equal(t, "tcp", gotNetwork)
	require.Equal(t, "proxy.example:3128", gotAddress)
}
