package relay

import (
	"net"
	"time"
)

// forward writes the request to up and streams the upstream's answer back to
// client until EOF, a read timeout or any error. A partial response is
// acceptable; the client's own timeouts decide what happens next.
func (s *Server) forward(client, up net.Conn, req []byte) {
	if _, err := up.Write(req); err != nil {
		s.log.Debug("upstream write failed", "err", err)
		return
	}

	bp := s.forwardBufs.Get()
	defer s.forwardBufs.Put(bp)
	buf := *bp

	for {
		_ = up.SetReadDeadline(time.Now().Add(s.cfg.ForwardTimeout))
		n, err := up.Read(buf)
		if n > 0 {
			if _, werr := client.Write(buf[:n]); werr != nil {
				s.log.Debug("client write failed", "err", werr)
				return
			}
		}
		if err != nil {
			if !isClosedErr(err) {
				s.log.Debug("upstream read ended", "err", err)
			}
			return
		}
	}
}
