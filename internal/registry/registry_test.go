package registry

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idavydoff/ackudp/internal/wire"
)

func addr(t *testing.T) net.Addr {
	t.Helper()
	a, err := net.ResolveUDPAddr("udp", "127.0.0.1:9999")
	require.NoError(t, err)
	return a
}

func TestInsertInboundSingleFragmentCompletesImmediately(t *testing.T) {
	r := New()
	id := wire.DatagramID{1, 2, 3, 4, 5}
	now := time.Now()

	update := r.InsertInbound(id, 0, 1, []byte("hello"), addr(t), now)
	assert.Equal(t, InboundCompleted, update.Result)
	assert.Equal(t, []byte("hello"), update.Payload)
}

func TestInsertInboundMultiFragmentReassemblesInOrder(t *testing.T) {
	r := New()
	id := wire.DatagramID{9, 9, 9, 9, 9}
	now := time.Now()

	first := r.InsertInbound(id, 0, 2, []byte("AAAA"), addr(t), now)
	assert.Equal(t, InboundNew, first.Result)
	assert.Equal(t, 1, first.Count)

	second := r.InsertInbound(id, 1, 2, []byte("BB"), addr(t), now)
	assert.Equal(t, InboundCompleted, second.Result)
	assert.Equal(t, []byte("AAAABB"), second.Payload)
}

func TestInsertInboundOutOfOrderArrivalStillReassemblesBySegIndex(t *testing.T) {
	r := New()
	id := wire.DatagramID{1, 1, 1, 1, 1}
	now := time.Now()

	r.InsertInbound(id, 2, 3, []byte("C"), addr(t), now)
	r.InsertInbound(id, 0, 3, []byte("A"), addr(t), now)
	final := r.InsertInbound(id, 1, 3, []byte("B"), addr(t), now)

	require.Equal(t, InboundCompleted, final.Result)
	assert.Equal(t, []byte("ABC"), final.Payload)
}

func TestInsertInboundDuplicateFragmentIsIdempotent(t *testing.T) {
	r := New()
	id := wire.DatagramID{2, 2, 2, 2, 2}
	now := time.Now()

	r.InsertInbound(id, 0, 2, []byte("A"), addr(t), now)
	dup := r.InsertInbound(id, 0, 2, []byte("A"), addr(t), now)
	assert.Equal(t, InboundMerged, dup.Result)
	assert.Equal(t, 1, dup.Count)
}

func TestInsertInboundLateFragmentAfterCompletionIsDuplicate(t *testing.T) {
	r := New()
	id := wire.DatagramID{3, 3, 3, 3, 3}
	now := time.Now()

	r.InsertInbound(id, 0, 2, []byte("A"), addr(t), now)
	completion := r.InsertInbound(id, 1, 2, []byte("B"), addr(t), now)
	require.Equal(t, InboundCompleted, completion.Result)

	late := r.InsertInbound(id, 1, 2, []byte("B"), addr(t), now.Add(time.Second))
	assert.Equal(t, InboundLateDuplicate, late.Result)
	assert.Nil(t, late.Payload)
}

func TestEvictStaleInboundRemovesOldEntriesAndPrunesCompletedCache(t *testing.T) {
	r := New()
	id := wire.DatagramID{4, 4, 4, 4, 4}
	completedID := wire.DatagramID{5, 5, 5, 5, 5}

	base := time.Now()
	r.InsertInbound(id, 0, 2, []byte("A"), addr(t), base)
	r.InsertInbound(completedID, 0, 1, []byte("Z"), addr(t), base)

	later := base.Add(31 * time.Second)
	evicted := r.EvictStaleInbound(later, 30*time.Second, 30*time.Second)
	assert.Equal(t, 1, evicted)

	// A fragment for completedID after the cache is pruned re-opens state
	// rather than staying silently deduped, matching spec.md's design
	// note on the bound of the completed-id cache.
	reopened := r.InsertInbound(completedID, 0, 1, []byte("Z"), addr(t), later)
	assert.Equal(t, InboundCompleted, reopened.Result)
}

func TestEvictStaleInboundUsesIndependentCompletedTTL(t *testing.T) {
	r := New()
	id := wire.DatagramID{9, 9, 9, 9, 9}
	completedID := wire.DatagramID{10, 10, 10, 10, 10}

	base := time.Now()
	r.InsertInbound(id, 0, 2, []byte("A"), addr(t), base)
	r.InsertInbound(completedID, 0, 1, []byte("Z"), addr(t), base)

	// staleAfter (inbound reassembly timeout) elapses, but completedTTL
	// (the late-duplicate re-ack window) is configured much longer and
	// has not yet elapsed: the stalled reassembly is evicted, but the
	// completed-id cache entry survives and still dedupes a late
	// duplicate fragment for completedID.
	later := base.Add(31 * time.Second)
	evicted := r.EvictStaleInbound(later, 30*time.Second, 5*time.Minute)
	assert.Equal(t, 1, evicted)

	stillCached := r.InsertInbound(completedID, 0, 1, []byte("Z"), addr(t), later)
	assert.Equal(t, InboundLateDuplicate, stillCached.Result)
}

func TestRegisterOutboundDetectsCollision(t *testing.T) {
	r := New()
	id := wire.DatagramID{6, 6, 6, 6, 6}
	now := time.Now()

	_, err := r.RegisterOutbound(id, addr(t), 1, map[uint32][]byte{0: []byte("x")}, now)
	require.NoError(t, err)

	_, err = r.RegisterOutbound(id, addr(t), 1, map[uint32][]byte{0: []byte("y")}, now)
	assert.ErrorIs(t, err, ErrCollision)
}

func TestMarkAckedPartialThenFullTransitionsStatus(t *testing.T) {
	r := New()
	id := wire.DatagramID{7, 7, 7, 7, 7}
	now := time.Now()

	handle, err := r.RegisterOutbound(id, addr(t), 2, map[uint32][]byte{
		0: []byte("A"),
		1: []byte("B"),
	}, now)
	require.NoError(t, err)
	assert.Equal(t, Pending, handle.Get())

	result := r.MarkAcked(id, []uint32{0}, now)
	assert.Equal(t, AckPartial, result)
	assert.Equal(t, Pending, handle.Get())

	result = r.MarkAcked(id, []uint32{1}, now)
	assert.Equal(t, AckFullyAcked, result)
	assert.Equal(t, Succeeded, handle.Get())

	// Fully-acked datagrams are removed from both tables.
	assert.False(t, r.HasOutbound(id))
}

func TestMarkAckedUnknownDatagramIsTolerated(t *testing.T) {
	r := New()
	result := r.MarkAcked(wire.DatagramID{8, 8, 8, 8, 8}, []uint32{0}, time.Now())
	assert.Equal(t, AckUnknownDatagram, result)
}

func TestNonAckedFragmentsExcludesAcked(t *testing.T) {
	r := New()
	id := wire.DatagramID{1, 0, 0, 0, 1}
	now := time.Now()

	_, err := r.RegisterOutbound(id, addr(t), 3, map[uint32][]byte{
		0: []byte("A"),
		1: []byte("B"),
		2: []byte("C"),
	}, now)
	require.NoError(t, err)

	r.MarkAcked(id, []uint32{1}, now)

	frags, ok := r.NonAckedFragments(id)
	require.True(t, ok)
	assert.ElementsMatch(t, [][]byte{[]byte("A"), []byte("C")}, frags)
}

func TestIncrementFailureUntilDrop(t *testing.T) {
	r := New()
	id := wire.DatagramID{2, 0, 0, 0, 2}
	now := time.Now()

	handle, err := r.RegisterOutbound(id, addr(t), 1, map[uint32][]byte{0: []byte("A")}, now)
	require.NoError(t, err)

	const failureMax = 3
	for i := 0; i < failureMax; i++ {
		failures, ok := r.IncrementFailure(id, now)
		require.True(t, ok)
		assert.Equal(t, i+1, failures)
	}

	r.DropOutbound(id)
	assert.Equal(t, Dropped, handle.Get())
	assert.False(t, r.HasOutbound(id))

	// Status monotonicity: a second transition attempt is a no-op.
	handle.transition(Succeeded)
	assert.Equal(t, Dropped, handle.Get())
}

func TestSnapshotOutboundReflectsLiveEntries(t *testing.T) {
	r := New()
	now := time.Now()
	ids := []wire.DatagramID{{1}, {2}, {3}}
	for _, id := range ids {
		_, err := r.RegisterOutbound(id, addr(t), 1, map[uint32][]byte{0: []byte("x")}, now)
		require.NoError(t, err)
	}

	snap := r.SnapshotOutbound()
	assert.Len(t, snap, 3)

	in, out := r.Counts()
	assert.Equal(t, 0, in)
	assert.Equal(t, 3, out)
}

func TestOrderTailCapsAtOneHundred(t *testing.T) {
	r := New()
	id := wire.DatagramID{3, 0, 0, 0, 3}
	now := time.Now()

	var last InboundUpdate
	for i := uint32(0); i < 150; i++ {
		last = r.InsertInbound(id, i, 200, []byte{byte(i)}, addr(t), now)
	}
	assert.Len(t, last.OrderTail, 100)
	assert.EqualValues(t, 149, last.OrderTail[len(last.OrderTail)-1])
}
