// Package transport wraps the two socket kinds a session owns: a reliable
// framed stream and an optional best-effort datagram endpoint.
package transport

import (
	"net"
	"sync"

	"smo-relay/internal/apperr"
	"smo-relay/internal/protocol"
)

// initialReadBuf is the starting capacity of a StreamConn's read buffer.
const initialReadBuf = 1024

// StreamConn wraps one reliable per-client socket. It keeps an append-only
// read buffer and serializes writes, matching §4.2.
type StreamConn struct {
	conn net.Conn

	readBuf []byte // unconsumed bytes; re-sliced forward as packets are taken

	writeMu sync.Mutex
}

// NewStreamConn wraps an already-accepted/dialed connection.
func NewStreamConn(conn net.Conn) *StreamConn {
	return &StreamConn{conn: conn, readBuf: make([]byte, 0, initialReadBuf)}
}

// RemoteAddr returns the peer's network address.
func (s *StreamConn) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// ReadPacket blocks until one complete packet is read, decodes it, and
// advances the internal buffer past it. See §4.2 for the exact
// closed/reset distinction.
func (s *StreamConn) ReadPacket() (protocol.Packet, error) {
	for {
		if consumed, err := protocol.Check(s.readBuf); err == nil {
			p, _, decErr := protocol.Decode(s.readBuf[:consumed])
			s.readBuf = append(s.readBuf[:0], s.readBuf[consumed:]...)
			return p, decErr
		}

		chunk := make([]byte, 4096)
		n, err := s.conn.Read(chunk)
		if n > 0 {
			s.readBuf = append(s.readBuf, chunk[:n]...)
		}
		if err != nil {
			if n == 0 && len(s.readBuf) == 0 {
				return protocol.Packet{}, apperr.ErrConnectionClosed
			}
			return protocol.Packet{}, apperr.ErrConnectionReset
		}
	}
}

// WritePacket encodes packet and writes it fully to the socket. Writes are
// serialized per-connection (§3 invariant 5).
func (s *StreamConn) WritePacket(p protocol.Packet) error {
	buf, err := protocol.Encode(p)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for len(buf) > 0 {
		n, err := s.conn.Write(buf)
		if err != nil {
			return apperr.Wrap("stream write", err)
		}
		buf = buf[n:]
	}
	return nil
}

// Close closes the underlying socket.
func (s *StreamConn) Close() error {
	return s.conn.Close()
}
