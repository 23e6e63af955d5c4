package ackudp

import (
	"net"
	"time"

	"github.com/idavydoff/ackudp/internal/wire"
)

// runOutboundSweeper periodically scans every in-flight outbound
// datagram and, for any that has gone quiet longer than
// Options.OutboundRetransmitInterval, retransmits its non-acked
// fragments in a detached goroutine (so one stalled datagram's paced
// retransmit never blocks the scan of the rest) and bumps its failure
// counter. A datagram whose failure counter exceeds Options.FailureMax is
// dropped: its status handle transitions to Dropped and it is removed
// from the outbound table.
func (t *Transport) runOutboundSweeper() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.opts.OutboundSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.shutdown:
			return
		case now := <-ticker.C:
			t.sweepOutboundOnce(now)
		}
	}
}

func (t *Transport) sweepOutboundOnce(now time.Time) {
	for _, snap := range t.reg.SnapshotOutbound() {
		if now.Sub(snap.LastActive) < t.opts.OutboundRetransmitInterval {
			continue
		}

		failures, ok := t.reg.IncrementFailure(snap.ID, now)
		if !ok {
			continue // acked out from under us between snapshot and increment
		}

		if failures > t.opts.FailureMax {
			t.log.Warn("datagram %x dropped after %d failed retransmit rounds", snap.ID, failures)
			t.datagramsDropped.Add(1)
			t.reg.DropOutbound(snap.ID)
			continue
		}

		t.retransmit(snap.ID, snap.Addr)
	}
}

// retransmit resends every fragment of id still missing an ack, paced by
// Options.FragmentPacing, on its own goroutine so a slow or unreachable
// peer never delays the sweep of other in-flight datagrams.
func (t *Transport) retransmit(id wire.DatagramID, addr net.Addr) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		fragments, ok := t.reg.NonAckedFragments(id)
		if !ok {
			return
		}
		t.retransmitBatches.Add(1)

		for i, frag := range fragments {
			t.sock.SendSync(frag, addr)
			t.fragmentsSent.Add(1)
			if i < len(fragments)-1 {
				time.Sleep(t.opts.FragmentPacing)
			}
		}
	}()
}
