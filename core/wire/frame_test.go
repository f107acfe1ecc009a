package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Frame{
		{PType: SYN, Seq: 12345, Ack: 0, Wnd: 64},
		{PType: SynAck, Seq: 1, Ack: 12345, Wnd: 64},
		{PType: ACK, Seq: 0, Ack: 99, Wnd: 12},
		{PType: DATA, Seq: 99, Ack: 0, Wnd: 0, Payload: bytes.Repeat([]byte{0xAB}, PayloadUnit)},
		{PType: FIN, Seq: 500, Ack: 0, Wnd: 0},
	}
	for _, want := range cases {
		raw, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode(%v): %v", want.PType, err)
		}
		got, err := Decode(raw)
		if err != nil {
			t.Fatalf("Decode after Encode(%v): %v", want.PType, err)
		}
		if got.PType != want.PType || got.Seq != want.Seq || got.Ack != want.Ack || got.Wnd != want.Wnd {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
		}
		if !bytes.Equal(got.Payload, want.Payload) {
			t.Errorf("payload mismatch: got %x, want %x", got.Payload, want.Payload)
		}
	}
}

func TestDecodeShortFrame(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	assertFramingReason(t, err, "short_frame")
}

func TestDecodeBadMagic(t *testing.T) {
	raw, _ := Encode(Frame{PType: ACK})
	raw[0] = 'X'
	_, err := Decode(raw)
	assertFramingReason(t, err, "bad_magic")
}

func TestDecodeBadVersion(t *testing.T) {
	raw, _ := Encode(Frame{PType: ACK})
	raw[2] = 9
	_, err := Decode(raw)
	assertFramingReason(t, err, "bad_version")
}

func TestDecodeBadHdrLen(t *testing.T) {
	raw, _ := Encode(Frame{PType: ACK})
	raw[5] = HeaderLen + 1
	_, err := Decode(raw)
	assertFramingReason(t, err, "bad_hdr_len")
}

func TestDecodeSizeMismatch(t *testing.T) {
	raw, _ := Encode(Frame{PType: DATA, Payload: []byte("hello")})
	raw = raw[:len(raw)-1]
	_, err := Decode(raw)
	assertFramingReason(t, err, "size_mismatch")
}

func TestDecodeCRCMismatch(t *testing.T) {
	raw, _ := Encode(Frame{PType: DATA, Payload: []byte("hello")})
	raw[len(raw)-1] ^= 0xFF
	_, err := Decode(raw)
	assertFramingReason(t, err, "crc_mismatch")
}

func TestEncodeRejectsOversizePayload(t *testing.T) {
	_, err := Encode(Frame{PType: DATA, Payload: make([]byte, MaxPayload+1)})
	if err == nil {
		t.Fatal("expected error for oversize payload, got nil")
	}
}

func assertFramingReason(t *testing.T, err error, reason string) {
	t.Helper()
	fe, ok := err.(*FramingError)
	if !ok {
		t.Fatalf("expected *FramingError, got %T (%v)", err, err)
	}
	if fe.Reason != reason {
		t.Errorf("expected reason %q, got %q", reason, fe.Reason)
	}
}
