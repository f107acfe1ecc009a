// Package conn holds the per-peer Connection record and its lifecycle state
// machine. A Connection is owned exclusively by the single endpoint that
// created it; nothing in this package synchronizes access across
// goroutines, matching the single-threaded-per-socket concurrency model.
package conn

import (
	"bytes"
	"fmt"
	"net"

	"github.com/rs/xid"

	"github.com/katzenpost/rudp/core/crypto"
	"github.com/katzenpost/rudp/core/wire"
)

// State is one of the six named lifecycle states shared by both endpoints.
// Which transitions are legal to trigger depends on which endpoint owns the
// action, per the state diagram in the connection lifecycle design.
type State uint8

const (
	Closed State = iota
	SynSent
	SynReceived
	Established
	FinWait
	CloseWait
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case SynSent:
		return "SYN_SENT"
	case SynReceived:
		return "SYN_RECEIVED"
	case Established:
		return "ESTABLISHED"
	case FinWait:
		return "FIN_WAIT"
	case CloseWait:
		return "CLOSE_WAIT"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// InvalidStateError reports an operation attempted in a lifecycle state that
// does not permit it. Per the error handling design this is logged and the
// operation returns without effect; it never destroys the connection.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("conn: %s invalid in state %s", e.Op, e.State)
}

// DefaultRecvBufferCap is the default capacity, in bytes, of a Connection's
// delivery buffer.
const DefaultRecvBufferCap = 65536

// InitialCwnd and InitialSsthresh are the congestion-control starting
// values, in whole PayloadUnit-sized chunks.
const (
	InitialCwnd     = 1
	InitialSsthresh = 64
	InitialRemoteWnd = 64
)

// Connection is the per-peer state record described by the data model: one
// endpoint's view of sequence numbers, windows, buffers, and lifecycle
// state for a single stream.
type Connection struct {
	// ID is a short opaque identifier used only to correlate log lines
	// for this connection; it has no wire presence.
	ID xid.ID

	PeerAddr net.Addr
	State    State

	LocalSeq    uint32 // next sequence number this endpoint will send
	RemoteSeq   uint32 // highest sequence number accepted from the peer
	LastAckSent uint32
	ExpectedSeq uint32 // next in-order sequence number expected from the peer

	// OutOfOrder buffers ciphertext for DATA frames received ahead of
	// ExpectedSeq, keyed by sequence number, until their predecessors
	// arrive.
	OutOfOrder map[uint32][]byte

	RecvBuffer    bytes.Buffer
	RecvBufferCap int

	RemoteWnd uint32
	Cwnd      uint32
	Ssthresh  uint32

	PacketsRecv       uint64
	BytesRecv         uint64
	DuplicatesDropped uint64

	Envelope crypto.Envelope
}

// New creates a Connection in the CLOSED state for peerAddr, with the
// receiver's initial local sequence number of zero (the sender instead
// samples a random initial sequence number; see internal/isn).
func New(peerAddr net.Addr) *Connection {
	return &Connection{
		ID:            xid.New(),
		PeerAddr:      peerAddr,
		State:         Closed,
		RecvBufferCap: DefaultRecvBufferCap,
		OutOfOrder:    make(map[uint32][]byte),
		RemoteWnd:     InitialRemoteWnd,
		Cwnd:          InitialCwnd,
		Ssthresh:      InitialSsthresh,
		Envelope:      crypto.Passthrough{},
	}
}

// AcceptSYN is the receiver-side CLOSED -> SYN_RECEIVED transition: it
// records the peer's initial sequence number and installs the negotiated
// envelope.
func (c *Connection) AcceptSYN(peerSeq uint32, env crypto.Envelope) error {
	if c.State != Closed {
		return &InvalidStateError{Op: "recv SYN", State: c.State}
	}
	c.RemoteSeq = peerSeq
	c.LocalSeq = 0
	c.Envelope = env
	c.State = SynReceived
	return nil
}

// AcceptHandshakeACK is the receiver-side SYN_RECEIVED -> ESTABLISHED
// transition triggered by the client's final handshake ACK.
func (c *Connection) AcceptHandshakeACK() error {
	if c.State != SynReceived {
		return &InvalidStateError{Op: "recv ACK", State: c.State}
	}
	c.ExpectedSeq = c.RemoteSeq + 1
	c.State = Established
	return nil
}

// AcceptFIN is the receiver-side ESTABLISHED -> CLOSE_WAIT transition.
func (c *Connection) AcceptFIN() error {
	if c.State != Established {
		return &InvalidStateError{Op: "recv FIN", State: c.State}
	}
	c.State = CloseWait
	return nil
}

// StartConnect is the sender-side CLOSED -> SYN_SENT transition: it records
// the randomly sampled initial sequence number the SYN will carry.
func (c *Connection) StartConnect(localSeq uint32) error {
	if c.State != Closed {
		return &InvalidStateError{Op: "send SYN", State: c.State}
	}
	c.LocalSeq = localSeq
	c.State = SynSent
	return nil
}

// CompleteHandshake is the sender-side SYN_SENT -> ESTABLISHED transition
// triggered by a matching SYN_ACK (the caller is responsible for having
// checked that the SYN_ACK's Ack field equals the sampled SYN sequence
// number before calling this).
func (c *Connection) CompleteHandshake(peerSeq uint32) error {
	if c.State != SynSent {
		return &InvalidStateError{Op: "recv SYN_ACK", State: c.State}
	}
	c.RemoteSeq = peerSeq
	c.LocalSeq++
	c.State = Established
	return nil
}

// Abort forces the connection back to CLOSED after a failed handshake.
func (c *Connection) Abort() {
	c.State = Closed
}

// StartClose is the sender-side ESTABLISHED -> FIN_WAIT transition.
func (c *Connection) StartClose() error {
	if c.State != Established {
		return &InvalidStateError{Op: "send FIN", State: c.State}
	}
	c.State = FinWait
	return nil
}

// CompleteClose is the sender-side FIN_WAIT -> CLOSED transition, triggered
// by the peer's ACK of the FIN (or, per the close timeout semantics, by a
// best-effort timeout — close is never fatal).
func (c *Connection) CompleteClose() {
	c.State = Closed
}

// AdvertisedWindow computes the receive window to carry in the next ACK, in
// whole PayloadUnit-sized units, from the free space remaining in
// RecvBuffer.
func (c *Connection) AdvertisedWindow() uint32 {
	free := c.RecvBufferCap - c.RecvBuffer.Len()
	if free < 0 {
		free = 0
	}
	return uint32(free / wire.PayloadUnit)
}
