package ackudp

import (
	"net"
	"time"

	"github.com/idavydoff/ackudp/internal/registry"
	"github.com/idavydoff/ackudp/internal/wire"
	"github.com/idavydoff/ackudp/pkg/logger"
)

// ackBatchThreshold is the segment count above which the processor
// switches from acking every fragment to the batched policy below, per
// SPEC_FULL.md §4's reading of the source's process_packets.rs.
const ackBatchThreshold = 100

// ackBatchTail is how close to completion (total - ackBatchTail) a
// batched reassembly forces an ack regardless of the modulo check, so the
// sender isn't left waiting on the last handful of fragments.
const ackBatchTail = 10

// runProcessor is the single consumer of the incoming queue: it decodes
// every raw buffer, classifies it as a data fragment or an ack, and
// drives the inbound/outbound registries accordingly. Keeping this on one
// goroutine means the registries never need a lock broader than their own
// per-table mutex.
func (t *Transport) runProcessor() {
	defer t.wg.Done()
	log := t.log.WithOp(logger.NewOp())

	for {
		select {
		case <-t.shutdown:
			return
		default:
		}

		item, ok := t.incoming.pop()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}

		pkt, err := wire.Decode(item.payload)
		if err != nil {
			log.Warn("discarding malformed packet from %s: %v", item.addr, err)
			continue
		}

		if pkt.Ack {
			t.handleAck(pkt, log)
			continue
		}
		t.handleData(pkt, item.addr, log)
	}
}

func (t *Transport) handleAck(pkt wire.Packet, log *logger.Logger) {
	segIndices := wire.AckedSegments(pkt)
	result := t.reg.MarkAcked(pkt.DatagramID, segIndices, time.Now())
	switch result {
	case registry.AckFullyAcked:
		t.datagramsDelivered.Add(1)
		log.Debug("datagram %x fully acked", pkt.DatagramID)
	case registry.AckUnknownDatagram:
		log.Debug("ack for unknown datagram %x, ignoring", pkt.DatagramID)
	}
}

func (t *Transport) handleData(pkt wire.Packet, addr net.Addr, log *logger.Logger) {
	t.fragmentsReceived.Add(1)

	update := t.reg.InsertInbound(pkt.DatagramID, pkt.SegIndex, pkt.TotalSegments, pkt.Payload, addr, time.Now())

	switch update.Result {
	case registry.InboundCompleted:
		t.ready.push(addrPayload{addr: addr, payload: update.Payload})
		// process_packets.rs acks the arriving fragment's own seg_index
		// first (the same per-fragment ack every non-final fragment
		// gets), then sends a second, separate ack naming the terminal
		// seg_index (total_segments - 1) to mark completion. Skipping the
		// first of these would leave the actually-completing fragment's
		// own index unacknowledged whenever it isn't the terminal index
		// (i.e. the datagram completed out of order), and the sender
		// would keep retransmitting it until it exhausted FailureMax.
		t.ackFragmentArrival(pkt, update, addr)
		t.sendAck(pkt.DatagramID, []uint32{update.Total - 1}, addr)
	case registry.InboundLateDuplicate:
		t.sendAck(pkt.DatagramID, []uint32{pkt.SegIndex}, addr)
	case registry.InboundNew, registry.InboundMerged:
		t.ackFragmentArrival(pkt, update, addr)
	}
}

// ackFragmentArrival implements the per-fragment ack policy from
// process_packets.rs: small datagrams ack every fragment immediately with
// a single-seg_index payload; large ones batch (ack every 100th segment
// plus the final handful).
func (t *Transport) ackFragmentArrival(pkt wire.Packet, update registry.InboundUpdate, addr net.Addr) {
	if update.Total <= ackBatchThreshold {
		t.sendAck(pkt.DatagramID, []uint32{pkt.SegIndex}, addr)
		return
	}
	if t.shouldBatchAck(update) {
		t.sendAck(pkt.DatagramID, update.OrderTail, addr)
	}
}

// shouldBatchAck implements the large-datagram ack-batching policy: ack
// every 100th segment plus the final handful, so the sender isn't left
// waiting on the last stretch before completion.
func (t *Transport) shouldBatchAck(u registry.InboundUpdate) bool {
	if uint32(u.Count)%ackBatchThreshold == 0 {
		return true
	}
	if uint32(u.Count) >= u.Total-ackBatchTail {
		return true
	}
	return false
}

func (t *Transport) sendAck(id wire.DatagramID, segIndices []uint32, addr net.Addr) {
	ack := wire.NewAck(id, segIndices)
	t.sock.Send(wire.Encode(ack), addr)
}
