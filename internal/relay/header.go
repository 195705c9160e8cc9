package relay

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

var (
	headerTerminator = []byte("\r\n\r\n")
	crlf             = []byte("\r\n")

	// badGatewayResponse is the only response the relay ever synthesizes.
	badGatewayResponse = []byte("HTTP/1.1 502 Bad Gateway\r\n\r\n")
)

var (
	errIncompleteHeader = errors.New("connection closed before end of header")
	errHeaderTooLarge   = errors.New("header too large")
)

const headerReadSize = 4096

// readHeader reads from c until buf contains "\r\n\r\n", applying timeout to
// each read. The returned slice holds everything read so far, which may
// extend past the terminator.
func readHeader(c net.Conn, timeout time.Duration, limit int) ([]byte, error) {
	buf := make([]byte, 0, headerReadSize)
	chunk := make([]byte, headerReadSize)
	for !bytes.Contains(buf, headerTerminator) {
		if len(buf) >= limit {
			return buf, errHeaderTooLarge
		}
		if timeout > 0 {
			_ = c.SetReadDeadline(time.Now().Add(timeout))
		}
		n, err := c.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			if bytes.Contains(buf, headerTerminator) {
				break
			}
			if errors.Is(err, io.EOF) {
				return buf, errIncompleteHeader
			}
			return buf, fmt.Errorf("%w: %w", errIncompleteHeader, err)
		}
	}
	_ = c.SetReadDeadline(time.Time{})
	return buf, nil
}

// splitHeader splits buf just after the first "\r\n\r\n". ok is false if
// there is no terminator.
func splitHeader(buf []byte) (header, rest []byte, ok bool) {
	i := bytes.Index(buf, headerTerminator)
	if i < 0 {
		return nil, nil, false
	}
	end := i + len(headerTerminator)
	return buf[:end], buf[end:], true
}

// ParseRequestLine extracts the method and request target from the first
// line of a raw request. A line without a space-delimited method yields an
// empty method and target "?".
func ParseRequestLine(buf []byte) (method, target string) {
	line, _, _ := bytes.Cut(buf, crlf)
	m, rest, found := bytes.Cut(line, []byte(" "))
	if !found || len(m) == 0 {
		return "", "?"
	}
	t, _, _ := bytes.Cut(rest, []byte(" "))
	if len(t) == 0 {
		return string(m), "?"
	}
	return string(m), string(t)
}

// InjectProxyAuth inserts "\r\nProxy-Authorization: Basic <token>"
// immediately before the first "\r\n\r\n" of req and returns the new slice.
// Every other byte is preserved. req is returned unchanged when token is
// empty or req has no terminator.
func InjectProxyAuth(req []byte, token string) []byte {
	if token == "" {
		return req
	}
	i := bytes.Index(req, headerTerminator)
	if i < 0 {
		return req
	}
	line := "\r\nProxy-Authorization: Basic " + token

	out := make([]byte, 0, len(req)+len(line))
	out = append(out, req[:i]...)
	out = append(out, line...)
	out = append(out, req[i:]...)
	return out
}

// statusCode returns the status code token of an HTTP response status line.
func statusCode(resp []byte) string {
	line, _, _ := bytes.Cut(resp, crlf)
	_, rest, found := bytes.Cut(line, []byte(" "))
	if !found {
		return ""
	}
	code, _, _ := bytes.Cut(bytes.TrimLeft(rest, " "), []byte(" "))
	return string(code)
}

// statusLine returns the first line of an HTTP response.
func statusLine(resp []byte) string {
	line, _, _ := bytes.Cut(resp, crlf)
	return string(line)
}
