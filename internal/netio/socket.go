// Package netio is the thin non-blocking-send / best-effort-receive shim
// over a UDP-like packet connection. It never exposes the registries or
// the wire codec; it only moves bytes.
package netio

import (
	"errors"
	"net"
	"time"

	"github.com/idavydoff/ackudp/internal/wire"
)

// WriteBackoff is the pause between retries of a transient
// (would-block-equivalent) send failure.
const WriteBackoff = 10 * time.Millisecond

// writeDeadline is the per-attempt deadline used to surface a transient
// "send buffer full" condition as a timeout error rather than blocking
// the retry loop indefinitely on one attempt.
const writeDeadline = 5 * time.Millisecond

// ReceiveBufferSize is 16 bytes beyond the maximum on-wire packet size,
// so a larger-than-expected datagram is truncated rather than panicking
// the listener.
const ReceiveBufferSize = wire.MaxPacketSize + 16

// PacketConn is the subset of net.PacketConn the shim needs. A real
// *net.UDPConn satisfies it.
type PacketConn interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
	ReadFrom(b []byte) (int, net.Addr, error)
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Socket wraps a PacketConn with fire-and-forget send semantics.
type Socket struct {
	conn PacketConn
}

// New wraps conn.
func New(conn PacketConn) *Socket {
	return &Socket{conn: conn}
}

// Send transmits buf to addr in its own goroutine so the caller's
// critical section never blocks on socket I/O. Transient errors are
// retried with WriteBackoff; a permanent error drops the packet
// best-effort (the outbound sweeper will observe the missing ACK and
// retry or eventually mark the datagram Dropped).
func (s *Socket) Send(buf []byte, addr net.Addr) {
	go s.sendBlocking(buf, addr)
}

// SendSync is Send without the goroutine hop, for callers that already
// run off the critical path and pace their own fragment sequence: the
// initial multi-fragment Send and the outbound sweeper's per-datagram
// retransmit batch both call this directly so the pacing sleep between
// fragments is not racing a detached goroutine per fragment.
func (s *Socket) SendSync(buf []byte, addr net.Addr) {
	s.sendBlocking(buf, addr)
}

func (s *Socket) sendBlocking(buf []byte, addr net.Addr) {
	for {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		_, err := s.conn.WriteTo(buf, addr)
		if err == nil {
			return
		}
		if isTransient(err) {
			time.Sleep(WriteBackoff)
			continue
		}
		// Permanent error: drop silently, best-effort.
		return
	}
}

func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// Recv blocks until one datagram is available (or the connection is
// closed) and returns its source address and payload bytes, trimmed to
// the bytes actually read.
func (s *Socket) Recv() (net.Addr, []byte, error) {
	buf := make([]byte, ReceiveBufferSize)
	_ = s.conn.SetReadDeadline(time.Time{})
	n, addr, err := s.conn.ReadFrom(buf)
	if err != nil {
		return nil, nil, err
	}
	return addr, buf[:n], nil
}

// Close releases the underlying connection.
func (s *Socket) Close() error {
	return s.conn.Close()
}
