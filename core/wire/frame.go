// Package wire implements the fixed-header frame codec for the rudp wire
// format: a fixed-size header followed by up to PayloadUnit bytes of opaque
// payload, integrity-protected by a CRC-32 (IEEE, the zlib polynomial)
// covering the header (with the crc32 field zeroed) concatenated with the
// payload. The codec is pure: it holds no state and both directions share
// the same layout definition below.
package wire

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// PType identifies the role a Frame plays in the connection lifecycle.
type PType uint8

const (
	SYN PType = iota + 1
	SynAck
	ACK
	DATA
	FIN
)

func (t PType) String() string {
	switch t {
	case SYN:
		return "SYN"
	case SynAck:
		return "SYN_ACK"
	case ACK:
		return "ACK"
	case DATA:
		return "DATA"
	case FIN:
		return "FIN"
	default:
		return fmt.Sprintf("PType(%d)", uint8(t))
	}
}

const (
	magic0 = 'R'
	magic1 = 'U'

	// Version is the only wire version this codec understands.
	Version uint8 = 1

	// HeaderLen is the fixed, self-describing header size in bytes:
	// magic(2) version(1) ptype(1) flags(1) hdr_len(1) seq(4) ack(4)
	// wnd(4) payload_len(2) crc32(4).
	HeaderLen = 24

	// PayloadUnit is the fixed fragmentation chunk size and flow-control
	// window unit, in bytes.
	PayloadUnit = 1024

	// MaxPayload is the largest payload a single Frame may carry.
	MaxPayload = PayloadUnit
)

// header byte offsets, the single source of truth shared by Encode/Decode.
const (
	offMagic      = 0
	offVersion    = 2
	offPType      = 3
	offFlags      = 4
	offHdrLen     = 5
	offSeq        = 6
	offAck        = 10
	offWnd        = 14
	offPayloadLen = 18
	offCRC        = 20
)

// Frame is the immutable unit of wire transmission.
type Frame struct {
	PType   PType
	Flags   uint8
	Seq     uint32
	Ack     uint32
	Wnd     uint32
	Payload []byte
}

// FramingError reports why Decode rejected a datagram. Per the error
// handling design, framing errors are always handled by silently discarding
// the datagram; they never escape to an operator as a fatal condition.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string {
	return "wire: framing error: " + e.Reason
}

func newFramingError(reason string) *FramingError {
	return &FramingError{Reason: reason}
}

// Encode serializes f into its wire representation.
func Encode(f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, fmt.Errorf("wire: payload of %d bytes exceeds max %d", len(f.Payload), MaxPayload)
	}
	buf := make([]byte, HeaderLen+len(f.Payload))
	putHeader(buf, f, 0)
	copy(buf[HeaderLen:], f.Payload)

	sum := crc32.ChecksumIEEE(buf)
	binary.BigEndian.PutUint32(buf[offCRC:offCRC+4], sum)
	return buf, nil
}

// Decode parses and validates raw as a Frame, enforcing every invariant in
// the wire format: magic, version, header length, declared-vs-actual size,
// and CRC.
func Decode(raw []byte) (Frame, error) {
	if len(raw) < HeaderLen {
		return Frame{}, newFramingError("short_frame")
	}
	if raw[offMagic] != magic0 || raw[offMagic+1] != magic1 {
		return Frame{}, newFramingError("bad_magic")
	}
	if raw[offVersion] != Version {
		return Frame{}, newFramingError("bad_version")
	}
	if raw[offHdrLen] != HeaderLen {
		return Frame{}, newFramingError("bad_hdr_len")
	}

	payloadLen := binary.BigEndian.Uint16(raw[offPayloadLen : offPayloadLen+2])
	if len(raw) != HeaderLen+int(payloadLen) {
		return Frame{}, newFramingError("size_mismatch")
	}

	carriedCRC := binary.BigEndian.Uint32(raw[offCRC : offCRC+4])
	verifyBuf := make([]byte, len(raw))
	copy(verifyBuf, raw)
	binary.BigEndian.PutUint32(verifyBuf[offCRC:offCRC+4], 0)
	if crc32.ChecksumIEEE(verifyBuf) != carriedCRC {
		return Frame{}, newFramingError("crc_mismatch")
	}

	f := Frame{
		PType: PType(raw[offPType]),
		Flags: raw[offFlags],
		Seq:   binary.BigEndian.Uint32(raw[offSeq : offSeq+4]),
		Ack:   binary.BigEndian.Uint32(raw[offAck : offAck+4]),
		Wnd:   binary.BigEndian.Uint32(raw[offWnd : offWnd+4]),
	}
	if payloadLen > 0 {
		f.Payload = append([]byte(nil), raw[HeaderLen:]...)
	}
	return f, nil
}

func putHeader(buf []byte, f Frame, crc uint32) {
	buf[offMagic] = magic0
	buf[offMagic+1] = magic1
	buf[offVersion] = Version
	buf[offPType] = byte(f.PType)
	buf[offFlags] = f.Flags
	buf[offHdrLen] = HeaderLen
	binary.BigEndian.PutUint32(buf[offSeq:offSeq+4], f.Seq)
	binary.BigEndian.PutUint32(buf[offAck:offAck+4], f.Ack)
	binary.BigEndian.PutUint32(buf[offWnd:offWnd+4], f.Wnd)
	binary.BigEndian.PutUint16(buf[offPayloadLen:offPayloadLen+2], uint16(len(f.Payload)))
	binary.BigEndian.PutUint32(buf[offCRC:offCRC+4], crc)
}
