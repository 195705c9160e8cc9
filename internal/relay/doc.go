// Package relay implements the authenticated-proxy relay.
//
// A Server listens on loopback and accepts plain HTTP proxy clients that have
// no way to supply credentials. Each request is forwarded to one fixed
// upstream proxy with a Proxy-Authorization header spliced into the client's
// raw request bytes. CONNECT requests become opaque byte tunnels once the
// upstream answers 200; everything else is forwarded as a single request
// whose response is streamed back.
//
// The relay never parses more than the request line and the header
// terminator, and never terminates TLS.
package relay
