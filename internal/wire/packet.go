// Package wire implements the ackudp fixed-header packet format: encode,
// decode, and the ACK-packet builder described by the transport's wire
// format. It has no knowledge of sockets, timers, or registries.
package wire

import (
	"encoding/binary"
	"errors"
)

// Header layout, all multi-byte integers big-endian:
//
//	datagram_id      5 bytes
//	seg_index        4 bytes
//	total_segments   4 bytes
//	ack_flag         1 byte
//	payload_size     2 bytes
//	payload          payload_size bytes
const (
	DatagramIDSize = 5
	HeaderSize     = DatagramIDSize + 4 + 4 + 1 + 2 // 16
	MaxPayload     = 400
	MaxPacketSize  = HeaderSize + MaxPayload // 416
)

// ErrMalformed is returned by Decode when a buffer is too short to hold a
// valid header or whose declared payload_size overruns the buffer.
var ErrMalformed = errors.New("wire: malformed packet")

// DatagramID is the opaque 5-byte token a sender assigns to one logical
// message. It is compared bytewise and never interpreted.
type DatagramID [DatagramIDSize]byte

// Packet is the in-memory form of one fragment, DATA or ACK.
type Packet struct {
	DatagramID     DatagramID
	SegIndex       uint32
	TotalSegments  uint32
	Ack            bool
	Payload        []byte
}

// Encode renders a Packet to its on-wire byte form.
func Encode(p Packet) []byte {
	buf := make([]byte, HeaderSize+len(p.Payload))
	copy(buf[0:DatagramIDSize], p.DatagramID[:])
	binary.BigEndian.PutUint32(buf[5:9], p.SegIndex)
	binary.BigEndian.PutUint32(buf[9:13], p.TotalSegments)
	if p.Ack {
		buf[13] = 1
	}
	binary.BigEndian.PutUint16(buf[14:16], uint16(len(p.Payload)))
	copy(buf[16:], p.Payload)
	return buf
}

// Decode parses a wire buffer into a Packet. Trailing bytes beyond
// payload_size (e.g. the unused tail of a fixed-size receive buffer) are
// ignored rather than treated as an error.
func Decode(buf []byte) (Packet, error) {
	if len(buf) < HeaderSize {
		return Packet{}, ErrMalformed
	}

	var p Packet
	copy(p.DatagramID[:], buf[0:DatagramIDSize])
	p.SegIndex = binary.BigEndian.Uint32(buf[5:9])
	p.TotalSegments = binary.BigEndian.Uint32(buf[9:13])
	p.Ack = buf[13] != 0
	payloadSize := binary.BigEndian.Uint16(buf[14:16])

	end := HeaderSize + int(payloadSize)
	if end > len(buf) {
		return Packet{}, ErrMalformed
	}

	p.Payload = make([]byte, payloadSize)
	copy(p.Payload, buf[HeaderSize:end])
	return p, nil
}

// NewAck builds a DATA-shaped packet with ack_flag set, acknowledging the
// given seg_index values for one datagram. Per spec it carries
// seg_index=0, total_segments=1, and a payload that is the concatenation
// of the acknowledged indices, each written big-endian in 4 bytes.
func NewAck(id DatagramID, segIndices []uint32) Packet {
	payload := make([]byte, 4*len(segIndices))
	for i, seg := range segIndices {
		binary.BigEndian.PutUint32(payload[i*4:i*4+4], seg)
	}
	return Packet{
		DatagramID:    id,
		SegIndex:      0,
		TotalSegments: 1,
		Ack:           true,
		Payload:       payload,
	}
}

// AckedSegments parses the seg_index list out of an ACK packet's payload.
// The caller is responsible for checking p.Ack first.
func AckedSegments(p Packet) []uint32 {
	n := len(p.Payload) / 4
	segs := make([]uint32, n)
	for i := 0; i < n; i++ {
		segs[i] = binary.BigEndian.Uint32(p.Payload[i*4 : i*4+4])
	}
	return segs
}

// NumFragments returns the fragment count required to carry a payload of
// length n bytes, each fragment carrying up to MaxPayload bytes.
func NumFragments(n int) int {
	if n == 0 {
		return 1
	}
	return (n + MaxPayload - 1) / MaxPayload
}

// FragmentBounds returns the half-open byte range [start, end) of fragment
// index i within a payload of length n.
func FragmentBounds(i, n int) (start, end int) {
	start = MaxPayload * i
	end = start + MaxPayload
	if end > n {
		end = n
	}
	return start, end
}
