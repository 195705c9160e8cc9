// Package dialer provides outbound dialing used by the relay.
//
// The relay always connects to one fixed upstream proxy, so the only
// production implementation is a direct TCP dialer with a connect timeout and
// TCP keepalive. Tests substitute their own Dialer through DialerFunc.
package dialer
