// Package ackudp is a reliable-message transport built atop a
// connectionless UDP-like datagram service. A caller hands it an
// arbitrary byte payload and a peer address; the transport fragments the
// payload, transmits it, reassembles it on the peer, acknowledges it,
// retransmits missing fragments on timeout, and reports per-message
// delivery status through a StatusHandle. The peer hands reassembled
// payloads back to its own caller, in the order reassembly completed.
package ackudp

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/idavydoff/ackudp/internal/netio"
	"github.com/idavydoff/ackudp/internal/registry"
	"github.com/idavydoff/ackudp/internal/wire"
	"github.com/idavydoff/ackudp/pkg/logger"
)

// maxIDCollisionRetries bounds how many times Send regenerates a
// datagram id before giving up, per spec.md §9's collision-avoidance
// design note.
const maxIDCollisionRetries = 8

// Transport owns one bound UDP-like endpoint, its datagram registries,
// and the four long-lived background tasks (listener, processor, inbound
// sweeper, outbound sweeper) that drive reliability.
type Transport struct {
	instanceID uuid.UUID
	opts       Options
	log        *logger.Logger

	sock      *netio.Socket
	reg       *registry.Registry
	localAddr net.Addr

	ready    fifo
	incoming fifo

	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup

	fragmentsSent      atomic.Uint64
	fragmentsReceived  atomic.Uint64
	retransmitBatches  atomic.Uint64
	datagramsDropped   atomic.Uint64
	datagramsDelivered atomic.Uint64
}

// New binds addr (host:port) as a UDP socket and starts the transport's
// background tasks.
func New(addr string, opts ...Option) (*Transport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("ackudp: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("ackudp: bind %q: %w", addr, err)
	}

	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	instanceID := uuid.New()
	t := &Transport{
		instanceID: instanceID,
		opts:       options,
		log:        logger.New(instanceID, options.LogLevel),
		sock:       netio.New(conn),
		reg:        registry.New(),
		localAddr:  conn.LocalAddr(),
		shutdown:   make(chan struct{}),
	}

	t.log.Success("bound %s", conn.LocalAddr())

	t.wg.Add(4)
	go t.runListener(conn)
	go t.runProcessor()
	go t.runInboundSweeper()
	go t.runOutboundSweeper()

	return t, nil
}

// InstanceID is a UUID assigned at construction, used only to correlate
// this Transport's log lines; it is unrelated to the wire's opaque 5-byte
// datagram_id.
func (t *Transport) InstanceID() uuid.UUID {
	return t.instanceID
}

// LocalAddr returns the address this Transport's socket is bound to.
func (t *Transport) LocalAddr() net.Addr {
	return t.localAddr
}

// Send fragments buf (if larger than wire.MaxPayload), registers it as an
// outbound datagram, transmits every fragment paced by
// Options.FragmentPacing, and returns a StatusHandle the caller can poll
// for Succeeded/Dropped.
func (t *Transport) Send(buf []byte, addr net.Addr) (*StatusHandle, error) {
	op := logger.NewOp()
	log := t.log.WithOp(op)

	segmentsCount := wire.NumFragments(len(buf))
	fragments := make(map[uint32][]byte, segmentsCount)
	for i := 0; i < segmentsCount; i++ {
		start, end := wire.FragmentBounds(i, len(buf))
		fragments[uint32(i)] = wire.Encode(wire.Packet{
			SegIndex:      uint32(i),
			TotalSegments: uint32(segmentsCount),
			Payload:       buf[start:end],
		})
	}

	var id wire.DatagramID
	var handle *StatusHandle
	now := time.Now()
	for attempt := 0; attempt < maxIDCollisionRetries; attempt++ {
		id = randomDatagramID()
		if t.reg.HasOutbound(id) {
			log.Warn("datagram id collision, regenerating (attempt %d)", attempt+1)
			continue
		}
		for segIdx := range fragments {
			fragments[segIdx] = withDatagramID(fragments[segIdx], id)
		}

		// RegisterOutbound still re-checks atomically: HasOutbound only
		// saves us from re-keying fragments under an id we already know
		// is taken, it does not replace the race-free commit below.
		h, err := t.reg.RegisterOutbound(id, addr, uint32(segmentsCount), fragments, now)
		if err == nil {
			handle = h
			break
		}
		log.Warn("datagram id collision, regenerating (attempt %d)", attempt+1)
	}
	if handle == nil {
		return nil, fmt.Errorf("ackudp: could not allocate a unique datagram id after %d attempts", maxIDCollisionRetries)
	}

	log.Debug("sending %d-byte payload to %s as %d fragment(s) (id=%x)", len(buf), addr, segmentsCount, id)

	// fragments is keyed exactly 0..segmentsCount-1 by construction above,
	// so ascending transmission order needs no sort.
	for seg := uint32(0); seg < uint32(segmentsCount); seg++ {
		t.sock.SendSync(fragments[seg], addr)
		t.fragmentsSent.Add(1)
		if seg < uint32(segmentsCount)-1 {
			time.Sleep(t.opts.FragmentPacing)
		}
	}

	return handle, nil
}

// Recv returns the next fully reassembled (source address, payload) pair,
// in the order its final fragment completed reassembly, or ok=false if
// none is ready. It never blocks.
func (t *Transport) Recv() (net.Addr, []byte, bool) {
	item, ok := t.ready.pop()
	if !ok {
		return nil, nil, false
	}
	return item.addr, item.payload, true
}

// Shutdown signals every background task to stop and closes the socket.
// It does not force-interrupt an in-flight paced retransmit batch; those
// are allowed to finish.
func (t *Transport) Shutdown() {
	t.shutdownOnce.Do(func() {
		close(t.shutdown)
		_ = t.sock.Close()
	})
	t.wg.Wait()
}

func randomDatagramID() wire.DatagramID {
	var id wire.DatagramID
	_, _ = rand.Read(id[:])
	return id
}

func withDatagramID(encoded []byte, id wire.DatagramID) []byte {
	copy(encoded[0:wire.DatagramIDSize], id[:])
	return encoded
}
