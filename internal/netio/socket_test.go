package netio

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is a minimal in-memory PacketConn for exercising Socket
// without binding a real UDP port.
type fakeConn struct {
	mu          sync.Mutex
	writes      [][]byte
	failUntil   int // number of WriteTo calls to fail with a timeout before succeeding
	permanentErr error
	readCh      chan fakeDatagram
	closed      bool
}

type fakeDatagram struct {
	addr net.Addr
	data []byte
}

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "i/o timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

func newFakeConn() *fakeConn {
	return &fakeConn{readCh: make(chan fakeDatagram, 8)}
}

func (f *fakeConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.permanentErr != nil {
		return 0, f.permanentErr
	}
	if f.failUntil > 0 {
		f.failUntil--
		return 0, fakeTimeoutErr{}
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	f.writes = append(f.writes, cp)
	return len(b), nil
}

func (f *fakeConn) ReadFrom(b []byte) (int, net.Addr, error) {
	dg := <-f.readCh
	n := copy(b, dg.data)
	return n, dg.addr, nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeConn) SetReadDeadline(time.Time) error  { return nil }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) Writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

func TestSocketSendSyncSucceedsImmediately(t *testing.T) {
	conn := newFakeConn()
	s := New(conn)

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1234}
	s.SendSync([]byte("hello"), addr)

	writes := conn.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, []byte("hello"), writes[0])
}

func TestSocketSendSyncRetriesOnTransientError(t *testing.T) {
	conn := newFakeConn()
	conn.failUntil = 2
	s := New(conn)

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1234}
	start := time.Now()
	s.SendSync([]byte("x"), addr)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 2*WriteBackoff)
	assert.Len(t, conn.Writes(), 1)
}

func TestSocketSendSyncDropsOnPermanentError(t *testing.T) {
	conn := newFakeConn()
	conn.permanentErr = net.ErrClosed
	s := New(conn)

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1234}
	done := make(chan struct{})
	go func() {
		s.SendSync([]byte("x"), addr)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SendSync did not return on permanent error")
	}
	assert.Empty(t, conn.Writes())
}

func TestSocketRecvReturnsEnqueuedDatagram(t *testing.T) {
	conn := newFakeConn()
	s := New(conn)

	addr := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 4242}
	conn.readCh <- fakeDatagram{addr: addr, data: []byte("payload")}

	gotAddr, buf, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, addr, gotAddr)
	assert.Equal(t, []byte("payload"), buf)
}
