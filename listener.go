package ackudp

import (
	"errors"
	"net"

	"github.com/idavydoff/ackudp/internal/wire"
	"github.com/idavydoff/ackudp/pkg/logger"
)

// runListener drains the socket as fast as the kernel hands datagrams
// over and pushes each raw buffer onto the incoming queue for the
// processor to decode. It keeps no state of its own: a short read, a
// push, loop. Unlike the original_source's listen loop, a non-fatal read
// error (anything but the socket being closed during Shutdown) is logged
// and the loop continues rather than panicking — see SPEC_FULL.md's
// correction of that behavior.
func (t *Transport) runListener(conn net.PacketConn) {
	defer t.wg.Done()
	log := t.log.WithOp(logger.NewOp())

	for {
		select {
		case <-t.shutdown:
			return
		default:
		}

		addr, buf, err := t.sock.Recv()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn("read error: %v", err)
			continue
		}
		if len(buf) < wire.HeaderSize {
			continue // too short to be a real packet, discard
		}

		t.incoming.push(addrPayload{addr: addr, payload: buf})
	}
}
