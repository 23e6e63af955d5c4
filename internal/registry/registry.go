// Package registry holds the in-memory inbound/outbound datagram tables
// and the status-handle table described by the transport's data model.
// Every table has its own short-lived lock; no lock is ever held across
// socket I/O.
package registry

import (
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/idavydoff/ackudp/internal/wire"
)

// ErrCollision is returned by RegisterOutbound when a datagram id is
// already in use by another in-flight outbound datagram.
var ErrCollision = errors.New("registry: datagram id collision")

// InboundResult classifies the effect of InsertInbound.
type InboundResult int

const (
	InboundNew InboundResult = iota
	InboundMerged
	InboundCompleted
	// InboundLateDuplicate marks a fragment that arrived for a datagram
	// id already fully delivered and evicted into the completed-id
	// cache. The caller should re-ACK it but must not redeliver or
	// re-materialize inbound state.
	InboundLateDuplicate
)

// InboundUpdate reports the registry's view of an inbound datagram after
// one fragment has been merged in, for the processor's ACK-batching
// policy and completion handling.
type InboundUpdate struct {
	Result InboundResult
	// Count is the number of distinct segments received so far,
	// including this one. Meaningless when Result == InboundLateDuplicate.
	Count int
	Total uint32
	// OrderTail is the last up-to-100 seg_index values in arrival order,
	// used to build a batched ACK payload.
	OrderTail []uint32
	// Payload is the reassembled message, set only when
	// Result == InboundCompleted.
	Payload []byte
}

type inboundEntry struct {
	addr          net.Addr
	segmentsCount uint32
	segments      map[uint32][]byte
	order         []uint32
	lastActive    time.Time
}

type outboundEntry struct {
	addr          net.Addr
	segmentsCount uint32
	fragments     map[uint32][]byte // encoded wire bytes, keyed by seg index
	acked         map[uint32]struct{}
	failures      int
	lastActive    time.Time
}

// OutboundSnapshot is a point-in-time copy of one outbound entry's
// liveness fields, used by the outbound sweeper to decide whether a
// datagram is due for retransmit or exhaustion without holding the
// registry lock while it acts.
type OutboundSnapshot struct {
	ID            wire.DatagramID
	Addr          net.Addr
	SegmentsCount uint32
	Failures      int
	LastActive    time.Time
}

// Registry owns the inbound table, the outbound table, the status-handle
// table, and the recently-completed-id cache. The inbound table and the
// completed-id cache share one mutex; the outbound and status tables each
// have their own.
type Registry struct {
	inboundMu sync.Mutex
	inbound   map[wire.DatagramID]*inboundEntry
	completed map[wire.DatagramID]time.Time

	outboundMu sync.Mutex
	outbound   map[wire.DatagramID]*outboundEntry

	statusMu sync.Mutex
	status   map[wire.DatagramID]*StatusHandle
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		inbound:   make(map[wire.DatagramID]*inboundEntry),
		completed: make(map[wire.DatagramID]time.Time),
		outbound:  make(map[wire.DatagramID]*outboundEntry),
		status:    make(map[wire.DatagramID]*StatusHandle),
	}
}

// --- Inbound side -----------------------------------------------------

// InsertInbound merges one DATA fragment into the inbound table,
// creating the entry if this is the first fragment seen for id. total is
// the total_segments field from the fragment (ignored on merge, where the
// original value governs). now is used for last_active and for the
// completed-id cache.
func (r *Registry) InsertInbound(id wire.DatagramID, seg uint32, total uint32, payload []byte, addr net.Addr, now time.Time) InboundUpdate {
	r.inboundMu.Lock()
	defer r.inboundMu.Unlock()

	if _, late := r.completed[id]; late {
		return InboundUpdate{Result: InboundLateDuplicate}
	}

	entry, existed := r.inbound[id]
	if !existed {
		entry = &inboundEntry{
			addr:          addr,
			segmentsCount: total,
			segments:      make(map[uint32][]byte),
			// total is an untrusted wire field; do not let it size an
			// allocation directly, or one crafted packet could demand an
			// enormous up-front slice before any real data has arrived.
			order: make([]uint32, 0, orderPreallocCap(total)),
		}
		r.inbound[id] = entry
	}

	if _, dup := entry.segments[seg]; !dup {
		entry.segments[seg] = payload
		entry.order = append(entry.order, seg)
	}
	entry.lastActive = now

	count := len(entry.segments)
	tail := orderTail(entry.order, 100)

	if uint32(count) == entry.segmentsCount {
		payload := assemble(entry)
		delete(r.inbound, id)
		r.completed[id] = now
		return InboundUpdate{
			Result:    InboundCompleted,
			Count:     count,
			Total:     entry.segmentsCount,
			OrderTail: tail,
			Payload:   payload,
		}
	}

	result := InboundMerged
	if !existed {
		result = InboundNew
	}
	return InboundUpdate{Result: result, Count: count, Total: entry.segmentsCount, OrderTail: tail}
}

// maxOrderPrealloc bounds how many entries InsertInbound will
// preallocate for a new inbound entry's order slice, regardless of the
// sender-supplied total_segments field.
const maxOrderPrealloc = 1024

func orderPreallocCap(total uint32) int {
	if total > maxOrderPrealloc {
		return maxOrderPrealloc
	}
	return int(total)
}

func orderTail(order []uint32, n int) []uint32 {
	if len(order) <= n {
		tail := make([]uint32, len(order))
		copy(tail, order)
		return tail
	}
	tail := make([]uint32, n)
	copy(tail, order[len(order)-n:])
	return tail
}

func assemble(entry *inboundEntry) []byte {
	total := 0
	for i := uint32(0); i < entry.segmentsCount; i++ {
		total += len(entry.segments[i])
	}
	out := make([]byte, 0, total)
	for i := uint32(0); i < entry.segmentsCount; i++ {
		out = append(out, entry.segments[i]...)
	}
	return out
}

// EvictStaleInbound removes inbound entries whose last_active is older
// than staleAfter, and prunes completed-id cache entries older than
// completedTTL (a separate, independently configured duration — the
// inbound-reassembly stall timeout and the late-duplicate re-ack window
// are different tunables even though both sweeps run on the same tick).
// It returns the number of inbound entries evicted.
func (r *Registry) EvictStaleInbound(now time.Time, staleAfter time.Duration, completedTTL time.Duration) int {
	r.inboundMu.Lock()
	defer r.inboundMu.Unlock()

	evicted := 0
	for id, entry := range r.inbound {
		if now.Sub(entry.lastActive) >= staleAfter {
			delete(r.inbound, id)
			evicted++
		}
	}
	for id, at := range r.completed {
		if now.Sub(at) >= completedTTL {
			delete(r.completed, id)
		}
	}
	return evicted
}

// --- Outbound side ------------------------------------------------------

// RegisterOutbound creates a new outbound entry with the given
// pre-encoded fragments (keyed by seg index) and a fresh Pending status
// handle. It fails with ErrCollision if id is already registered.
func (r *Registry) RegisterOutbound(id wire.DatagramID, addr net.Addr, segmentsCount uint32, fragments map[uint32][]byte, now time.Time) (*StatusHandle, error) {
	r.outboundMu.Lock()
	if _, exists := r.outbound[id]; exists {
		r.outboundMu.Unlock()
		return nil, ErrCollision
	}
	r.outbound[id] = &outboundEntry{
		addr:          addr,
		segmentsCount: segmentsCount,
		fragments:     fragments,
		acked:         make(map[uint32]struct{}),
		lastActive:    now,
	}
	r.outboundMu.Unlock()

	handle := newStatusHandle()
	r.statusMu.Lock()
	r.status[id] = handle
	r.statusMu.Unlock()
	return handle, nil
}

// HasOutbound reports whether id is currently registered, for collision
// checks before RegisterOutbound commits.
func (r *Registry) HasOutbound(id wire.DatagramID) bool {
	r.outboundMu.Lock()
	defer r.outboundMu.Unlock()
	_, ok := r.outbound[id]
	return ok
}

// AckResult classifies the effect of MarkAcked.
type AckResult int

const (
	AckUnknownDatagram AckResult = iota
	AckPartial
	AckFullyAcked
)

// MarkAcked unions segIndices into the outbound entry's acked set. If the
// datagram becomes fully acked, the outbound entry and its status handle
// are removed and the handle transitions to Succeeded. Otherwise the
// failure counter is reset to 0 and last_active refreshed (a successful
// partial ack is fresh progress).
func (r *Registry) MarkAcked(id wire.DatagramID, segIndices []uint32, now time.Time) AckResult {
	r.outboundMu.Lock()
	entry, ok := r.outbound[id]
	if !ok {
		r.outboundMu.Unlock()
		return AckUnknownDatagram
	}

	for _, seg := range segIndices {
		entry.acked[seg] = struct{}{}
	}

	if uint32(len(entry.acked)) >= entry.segmentsCount {
		delete(r.outbound, id)
		r.outboundMu.Unlock()

		r.statusMu.Lock()
		if handle, ok := r.status[id]; ok {
			handle.transition(Succeeded)
			delete(r.status, id)
		}
		r.statusMu.Unlock()
		return AckFullyAcked
	}

	entry.failures = 0
	entry.lastActive = now
	r.outboundMu.Unlock()
	return AckPartial
}

// SnapshotOutbound returns a liveness snapshot of every registered
// outbound datagram, for the sweeper to scan without holding the
// registry lock while it decides and acts.
func (r *Registry) SnapshotOutbound() []OutboundSnapshot {
	r.outboundMu.Lock()
	defer r.outboundMu.Unlock()

	out := make([]OutboundSnapshot, 0, len(r.outbound))
	for id, entry := range r.outbound {
		out = append(out, OutboundSnapshot{
			ID:            id,
			Addr:          entry.addr,
			SegmentsCount: entry.segmentsCount,
			Failures:      entry.failures,
			LastActive:    entry.lastActive,
		})
	}
	return out
}

// NonAckedFragments returns the encoded wire bytes of every fragment not
// yet in the acked set, in ascending seg_index order, for a retransmit
// batch. The second return value is false if id is no longer registered.
func (r *Registry) NonAckedFragments(id wire.DatagramID) ([][]byte, bool) {
	r.outboundMu.Lock()
	defer r.outboundMu.Unlock()

	entry, ok := r.outbound[id]
	if !ok {
		return nil, false
	}

	indices := make([]uint32, 0, len(entry.fragments))
	for seg := range entry.fragments {
		if _, acked := entry.acked[seg]; !acked {
			indices = append(indices, seg)
		}
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	frags := make([][]byte, 0, len(indices))
	for _, seg := range indices {
		frags = append(frags, entry.fragments[seg])
	}
	return frags, true
}

// IncrementFailure bumps the failure counter for id and refreshes
// last_active. It returns the post-increment failure count and false if
// id is no longer registered (e.g. it was just acked in full by a
// concurrent ACK).
func (r *Registry) IncrementFailure(id wire.DatagramID, now time.Time) (int, bool) {
	r.outboundMu.Lock()
	defer r.outboundMu.Unlock()

	entry, ok := r.outbound[id]
	if !ok {
		return 0, false
	}
	entry.failures++
	entry.lastActive = now
	return entry.failures, true
}

// DropOutbound removes the outbound entry and transitions its status
// handle to Dropped. It is a no-op if id is already gone.
func (r *Registry) DropOutbound(id wire.DatagramID) {
	r.outboundMu.Lock()
	delete(r.outbound, id)
	r.outboundMu.Unlock()

	r.statusMu.Lock()
	if handle, ok := r.status[id]; ok {
		handle.transition(Dropped)
		delete(r.status, id)
	}
	r.statusMu.Unlock()
}

// Counts returns the current number of in-flight inbound and outbound
// datagrams, for the metrics collector.
func (r *Registry) Counts() (inbound int, outbound int) {
	r.inboundMu.Lock()
	inbound = len(r.inbound)
	r.inboundMu.Unlock()

	r.outboundMu.Lock()
	outbound = len(r.outbound)
	r.outboundMu.Unlock()
	return inbound, outbound
}
