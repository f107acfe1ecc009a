// Package client implements the Sender Engine: the client-side handshake,
// fragmentation, stop-and-wait retransmission loop, congestion/flow-control
// window, teardown, and transfer telemetry.
package client

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/katzenpost/rudp/core/conn"
	"github.com/katzenpost/rudp/core/crypto"
	"github.com/katzenpost/rudp/core/wire"
	"github.com/katzenpost/rudp/internal/isn"
	"github.com/katzenpost/rudp/internal/metrics"
	"github.com/katzenpost/rudp/internal/worker"
)

// DefaultTimeout is the per-frame wait timeout used when the caller does not
// override it.
const DefaultTimeout = 1 * time.Second

// MaxRetries is the number of timeouts tolerated per chunk before the
// transfer aborts.
const MaxRetries = 5

// Sender is the client-side endpoint of one connection.
type Sender struct {
	worker.Worker

	host      string
	port      int
	timeout   time.Duration
	useCrypto bool

	Log     *log.Logger
	Metrics *metrics.Registry

	udpConn *net.UDPConn
	c       *conn.Connection
	env     crypto.Envelope
}

// New constructs a Sender targeting host:port. useCrypto selects whether
// connect() negotiates an AEAD envelope (a fresh key is generated and
// embedded in the SYN) or passthrough.
func New(host string, port int, timeout time.Duration, useCrypto bool) *Sender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sender{
		host:      host,
		port:      port,
		timeout:   timeout,
		useCrypto: useCrypto,
		Log:       log.NewWithOptions(os.Stderr, log.Options{Prefix: "sender"}),
	}
}

// WithEnvelope overrides the envelope connect() would otherwise construct,
// for tests and for the --key CLI flag (a pre-derived shared key).
func (s *Sender) WithEnvelope(env crypto.Envelope) *Sender {
	s.env = env
	return s
}

// Connect performs the three-way handshake. It is only valid when the
// Sender has not yet connected; on success the Sender is ESTABLISHED and
// ready for Send.
func (s *Sender) Connect() (bool, error) {
	raddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.host, s.port))
	if err != nil {
		return false, fmt.Errorf("client: resolve %s:%d: %w", s.host, s.port, err)
	}
	udpConn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return false, fmt.Errorf("client: dial %s:%d: %w", s.host, s.port, err)
	}
	s.udpConn = udpConn
	s.c = conn.New(raddr)

	if s.env == nil {
		if s.useCrypto {
			key, err := crypto.GenerateKey()
			if err != nil {
				return false, fmt.Errorf("client: generate key: %w", err)
			}
			s.Log.Infof("generated session key %s", crypto.EncodeKey(key))
			s.env = crypto.NewAEAD(key)
		} else {
			s.env = crypto.Passthrough{}
		}
	}
	s.c.Envelope = s.env

	seq, err := isn.Generate()
	if err != nil {
		return false, fmt.Errorf("client: sample initial sequence number: %w", err)
	}
	if err := s.c.StartConnect(seq); err != nil {
		return false, err
	}

	syn := wire.Frame{PType: wire.SYN, Seq: seq, Payload: s.env.KeyMaterial()}
	s.send(syn)

	reply, err := s.readWithDeadline(time.Now().Add(s.timeout))
	if err != nil {
		s.c.Abort()
		return false, &HandshakeError{Reason: fmt.Sprintf("waiting for SYN_ACK: %v", err)}
	}
	if reply.PType != wire.SynAck || reply.Ack != seq {
		s.c.Abort()
		return false, &HandshakeError{Reason: fmt.Sprintf("unexpected reply %v ack=%d (want SYN_ACK ack=%d)", reply.PType, reply.Ack, seq)}
	}

	if err := s.c.CompleteHandshake(reply.Seq); err != nil {
		s.c.Abort()
		return false, &HandshakeError{Reason: err.Error()}
	}
	s.c.RemoteWnd = reply.Wnd

	finalAck := wire.Frame{PType: wire.ACK, Seq: s.c.LocalSeq, Ack: s.c.RemoteSeq}
	s.send(finalAck)

	s.Log.Infof("conn %s: connected to %s (local_seq=%d remote_seq=%d)", s.c.ID, raddr, s.c.LocalSeq, s.c.RemoteSeq)
	return true, nil
}

// Send fragments data into PayloadUnit-sized chunks, encrypts and reliably
// transmits each in order, and returns telemetry for the whole transfer. On
// TransferAborted, the returned stats reflect the bytes actually
// acknowledged before the abort.
func (s *Sender) Send(data []byte) (TransferStats, error) {
	if s.c == nil || s.c.State != conn.Established {
		state := conn.Closed
		if s.c != nil {
			state = s.c.State
		}
		return TransferStats{}, &conn.InvalidStateError{Op: "send", State: state}
	}

	start := time.Now()
	var stats TransferStats

	for offset := 0; offset < len(data) || (len(data) == 0 && offset == 0); offset += wire.PayloadUnit {
		end := offset + wire.PayloadUnit
		if end > len(data) {
			end = len(data)
		}
		chunk := data[offset:end]

		ciphertext, err := s.env.Encrypt(chunk)
		if err != nil {
			return stats, fmt.Errorf("client: encrypt chunk at offset %d: %w", offset, err)
		}

		frame := wire.Frame{PType: wire.DATA, Seq: s.c.LocalSeq, Payload: ciphertext}
		ok, retries := s.reliableSend(frame)
		stats.Retransmissions += retries
		if s.Metrics != nil && retries > 0 {
			s.Metrics.Retransmissions.Add(float64(retries))
		}
		if !ok {
			return stats, &TransferAbortedError{Seq: frame.Seq, Retries: retries}
		}

		stats.PacketsSent++
		stats.BytesSent += len(chunk)
		if s.Metrics != nil {
			s.Metrics.PacketsSent.Inc()
			s.Metrics.BytesSent.Add(float64(len(chunk)))
		}

		updateCongestionWindow(s.c, retries)
		stats.CwndHistory = append(stats.CwndHistory, effectiveWindow(s.c))
		if s.Metrics != nil {
			s.Metrics.Cwnd.Set(float64(s.c.Cwnd))
			s.Metrics.Ssthresh.Set(float64(s.c.Ssthresh))
		}

		s.c.LocalSeq++

		if len(data) == 0 {
			break
		}
	}

	elapsed := time.Since(start)
	stats.TimeMs = elapsed.Milliseconds()
	stats.ThroughputKbps = throughputKbps(stats.BytesSent, stats.TimeMs)
	s.Log.Infof("conn %s: transfer complete: %d packets, %d bytes, %d retransmissions",
		s.c.ID, stats.PacketsSent, stats.BytesSent, stats.Retransmissions)
	return stats, nil
}

func throughputKbps(bytesSent int, timeMs int64) float64 {
	if timeMs <= 0 {
		return 0
	}
	return (float64(bytesSent) / 1024) / (float64(timeMs) / 1000)
}

// reliableSend drives the stop-and-wait delivery of a single frame: it
// blocks on the zero-window condition, transmits, and retransmits on
// timeout up to MaxRetries times.
func (s *Sender) reliableSend(f wire.Frame) (ok bool, retries int) {
	for {
		if s.c.RemoteWnd == 0 {
			updated, zeroWindowRetries := s.waitForWindowUpdate()
			retries += zeroWindowRetries
			if !updated {
				return false, retries
			}
			continue
		}

		s.send(f)
		deadline := time.Now().Add(s.timeout)
	waitForAck:
		reply, err := s.readWithDeadline(deadline)
		if err != nil {
			retries++
			if retries > MaxRetries {
				return false, retries
			}
			continue
		}
		switch {
		case reply.PType == wire.ACK && reply.Ack >= f.Seq:
			s.c.RemoteWnd = reply.Wnd
			return true, retries
		case reply.PType == wire.ACK:
			// stale/partial ack; keep waiting within the same deadline.
			goto waitForAck
		default:
			s.Log.Debugf("unexpected %v while awaiting ACK for seq=%d", reply.PType, f.Seq)
			goto waitForAck
		}
	}
}

// waitForWindowUpdate blocks for an ACK that raises RemoteWnd above zero,
// for up to MaxRetries timeouts, counting each as a retransmission per the
// reliable-send loop's step 1.
func (s *Sender) waitForWindowUpdate() (updated bool, retries int) {
	for retries < MaxRetries {
		reply, err := s.readWithDeadline(time.Now().Add(s.timeout))
		if err != nil {
			retries++
			continue
		}
		if reply.PType == wire.ACK {
			s.c.RemoteWnd = reply.Wnd
			if reply.Wnd > 0 {
				return true, retries
			}
		}
	}
	return false, retries
}

// Close transmits FIN and tears down the socket. Per the close timeout
// semantics, the wait for the FIN's ACK is best-effort and never fails
// visibly: the receiver is assumed to have already released its state.
func (s *Sender) Close() error {
	if s.c == nil || s.c.State != conn.Established {
		if s.c != nil {
			s.Log.Warnf("close called in state %s", s.c.State)
		}
		return nil
	}
	finSeq := s.c.LocalSeq + 1
	if err := s.c.StartClose(); err != nil {
		s.Log.Warnf("conn %s: close: %v", s.c.ID, err)
	}
	s.send(wire.Frame{PType: wire.FIN, Seq: finSeq})
	if _, err := s.readWithDeadline(time.Now().Add(s.timeout)); err != nil {
		s.Log.Debugf("conn %s: close: no FIN ack received, proceeding anyway: %v", s.c.ID, err)
	}
	s.c.CompleteClose()
	return s.udpConn.Close()
}

func (s *Sender) send(f wire.Frame) {
	raw, err := wire.Encode(f)
	if err != nil {
		s.Log.Errorf("encode %v: %v", f.PType, err)
		return
	}
	if _, err := s.udpConn.Write(raw); err != nil {
		s.Log.Warnf("send %v: %v", f.PType, err)
	}
}

func (s *Sender) readWithDeadline(deadline time.Time) (wire.Frame, error) {
	if err := s.udpConn.SetReadDeadline(deadline); err != nil {
		return wire.Frame{}, err
	}
	buf := make([]byte, wire.HeaderLen+wire.MaxPayload)
	n, err := s.udpConn.Read(buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return wire.Frame{}, err
		}
		return wire.Frame{}, err
	}
	return wire.Decode(buf[:n])
}
