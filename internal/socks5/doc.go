// Package socks5 is the relay's thin layer over github.com/txthinking/socks5.
//
// The relay's SOCKS5 front door only accepts unauthenticated CONNECT
// requests, so this package offers just that server handshake plus the
// matching client handshake used to exercise it.
package socks5
