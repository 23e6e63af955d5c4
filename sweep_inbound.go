package ackudp

import "time"

// runInboundSweeper periodically evicts inbound reassemblies that have
// gone quiet for longer than Options.InboundStall (a peer started sending
// fragments but never finished, or the remaining fragments were lost and
// the sender gave up), and prunes the completed-id cache on the same tick.
func (t *Transport) runInboundSweeper() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.opts.InboundSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.shutdown:
			return
		case now := <-ticker.C:
			evicted := t.reg.EvictStaleInbound(now, t.opts.InboundStall, t.opts.CompletedIDCacheTTL)
			if evicted > 0 {
				t.log.Debug("inbound sweep evicted %d stalled reassembly(-ies)", evicted)
			}
		}
	}
}
