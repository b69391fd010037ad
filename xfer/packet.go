// Package xfer is the application packetizer: it slices a file into
// control and data packets and drives an hdlc.Session to move them
// across the link.
package xfer

import (
	"encoding/binary"
	"fmt"
)

// Control packet kinds.
const (
	KindStart byte = 0x02
	KindEnd   byte = 0x03
)

// Data packets are tagged with this byte instead of a control kind.
const dataTag byte = 0x01

// TLV tags inside a control packet.
const (
	tlvSize byte = 0x00
	tlvName byte = 0x01
)

// sizeLen is the fixed width of the size_be field. The original source
// packed sizeof(long) bytes, which is machine-dependent; this module
// fixes it at 8 to make the wire format portable.
const sizeLen = 8

// ChunkSize is how many file bytes each Data packet carries. 256 matches
// the reference implementation's read buffer and comfortably fits under
// hdlc.MaxPayload once the four-byte data header is added.
const ChunkSize = 256

// ControlPacket is the decoded Start/End packet: a transfer's filename
// and total size, tagged with which boundary it marks.
type ControlPacket struct {
	Kind     byte
	Filename string
	Size     uint64
}

// EncodeControl builds the TLV-framed control packet:
// [kind][tlvSize][sizeLen][size_be][tlvName][name_len][name].
func EncodeControl(kind byte, filename string, size uint64) []byte {
	out := make([]byte, 0, 3+sizeLen+2+len(filename))
	out = append(out, kind, tlvSize, sizeLen)
	sizeBuf := make([]byte, sizeLen)
	binary.BigEndian.PutUint64(sizeBuf, size)
	out = append(out, sizeBuf...)
	out = append(out, tlvName, byte(len(filename)))
	out = append(out, filename...)
	return out
}

// DecodeControl parses a control packet built by EncodeControl. It
// rejects anything whose TLV structure doesn't match, rather than
// silently misreading truncated input.
func DecodeControl(b []byte) (ControlPacket, error) {
	if len(b) < 3 {
		return ControlPacket{}, fmt.Errorf("xfer: control packet too short (%d bytes)", len(b))
	}
	kind := b[0]
	if kind != KindStart && kind != KindEnd {
		return ControlPacket{}, fmt.Errorf("xfer: unexpected control kind 0x%02x", kind)
	}
	if b[1] != tlvSize {
		return ControlPacket{}, fmt.Errorf("xfer: expected size TLV tag 0x%02x, got 0x%02x", tlvSize, b[1])
	}
	n := int(b[2])
	if len(b) < 3+n+2 {
		return ControlPacket{}, fmt.Errorf("xfer: control packet truncated before size field")
	}
	sizeField := b[3 : 3+n]
	var size uint64
	for _, c := range sizeField {
		size = size<<8 | uint64(c)
	}

	rest := b[3+n:]
	if rest[0] != tlvName {
		return ControlPacket{}, fmt.Errorf("xfer: expected name TLV tag 0x%02x, got 0x%02x", tlvName, rest[0])
	}
	nameLen := int(rest[1])
	if len(rest) < 2+nameLen {
		return ControlPacket{}, fmt.Errorf("xfer: control packet truncated before name field")
	}
	name := string(rest[2 : 2+nameLen])

	return ControlPacket{Kind: kind, Filename: name, Size: size}, nil
}

// EncodeData builds a data packet: [dataTag][seq][size_hi][size_lo][data].
// data must fit in 16 bits and leave room under hdlc.MaxPayload once the
// four-byte header is added; callers keep chunks at ChunkSize to stay
// well clear of either limit.
func EncodeData(seq uint8, data []byte) ([]byte, error) {
	if len(data) > 0xFFFF {
		return nil, fmt.Errorf("xfer: data chunk too large (%d bytes)", len(data))
	}
	out := make([]byte, 4+len(data))
	out[0] = dataTag
	out[1] = seq
	out[2] = byte(len(data) >> 8)
	out[3] = byte(len(data))
	copy(out[4:], data)
	return out, nil
}

// DecodeData parses a data packet built by EncodeData.
func DecodeData(b []byte) (seq uint8, data []byte, err error) {
	if len(b) < 4 {
		return 0, nil, fmt.Errorf("xfer: data packet too short (%d bytes)", len(b))
	}
	if b[0] != dataTag {
		return 0, nil, fmt.Errorf("xfer: expected data tag 0x%02x, got 0x%02x", dataTag, b[0])
	}
	size := int(b[2])<<8 | int(b[3])
	if len(b) < 4+size {
		return 0, nil, fmt.Errorf("xfer: data packet truncated: declared %d bytes, have %d", size, len(b)-4)
	}
	return b[1], b[4 : 4+size], nil
}
