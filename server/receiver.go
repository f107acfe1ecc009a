// Package server implements the Receiver Engine: a single-threaded event
// loop over one UDP socket that decodes inbound Frames, filters duplicates
// and loss, reassembles payloads in order, and drives the per-peer
// Connection lifecycle.
package server

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
	"github.com/katzenpost/rudp/internal/metrics"
	"github.com/katzenpost/rudp/internal/worker"
)

const maxDatagramSize = wire.HeaderLen + wire.MaxPayload

// Receiver is the server-side endpoint: it owns one UDP socket and a table
// of Connections keyed by peer address.
type Receiver struct {
	worker.Worker

	bindAddr string
	port     int
	drop     *LossInjector

	udpConn     *net.UDPConn
	connections map[string]*conn.Connection

	Log     *log.Logger
	Metrics *metrics.Registry
}

// New constructs a Receiver bound to bindAddr:port, dropping inbound
// datagrams independently with probability dropProb.
func New(bindAddr string, port int, dropProb float64) *Receiver {
	return &Receiver{
		bindAddr:    bindAddr,
		port:        port,
		drop:        NewLossInjector(dropProb, time.Now().UnixNano()),
		connections: make(map[string]*conn.Connection),
		Log:         log.NewWithOptions(os.Stderr, log.Options{Prefix: "receiver"}),
	}
}

// LocalAddr returns the bound socket address once Run has started listening.
func (r *Receiver) LocalAddr() net.Addr {
	if r.udpConn == nil {
		return nil
	}
	return r.udpConn.LocalAddr()
}

// Run binds the socket and blocks, dispatching datagrams until Halt is
// called or the socket errors.
func (r *Receiver) Run() error {
	addr := &net.UDPAddr{IP: net.ParseIP(r.bindAddr), Port: r.port}
	udpConn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s:%d: %w", r.bindAddr, r.port, err)
	}
	r.udpConn = udpConn
	defer udpConn.Close()

	r.Log.Infof("listening on %s", udpConn.LocalAddr())

	buf := make([]byte, maxDatagramSize)
	for {
		select {
		case <-r.HaltCh():
			return nil
		default:
		}

		udpConn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, peer, err := udpConn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			select {
			case <-r.HaltCh():
				return nil
			default:
				return fmt.Errorf("server: read: %w", err)
			}
		}

		if r.drop.ShouldDrop() {
			r.Log.Debugf("loss injector dropped datagram from %s", peer)
			r.incDropped("loss_injected")
			continue
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])
		r.handleDatagram(raw, peer)
	}
}

func (r *Receiver) incDropped(reason string) {
	if r.Metrics != nil {
		r.Metrics.FramesDropped.WithLabelValues(reason).Inc()
	}
}

func (r *Receiver) handleDatagram(raw []byte, peer *net.UDPAddr) {
	f, err := wire.Decode(raw)
	if err != nil {
		r.Log.Warnf("dropping malformed datagram from %s: %v", peer, err)
		r.incDropped("framing_error")
		return
	}

	switch f.PType {
	case wire.SYN:
		r.handleSYN(f, peer)
	case wire.ACK:
		r.handleACK(f, peer)
	case wire.DATA:
		r.handleDATA(f, peer)
	case wire.FIN:
		r.handleFIN(f, peer)
	default:
		r.Log.Warnf("ignoring unknown ptype %v from %s", f.PType, peer)
	}
}

func (r *Receiver) handleSYN(f wire.Frame, peer *net.UDPAddr) {
	key := peer.String()
	c, ok := r.connections[key]
	if !ok {
		c = conn.New(peer)
		r.connections[key] = c
	}

	env, recognized := crypto.EnvelopeForSYNPayload(f.Payload)
	if !recognized {
		r.Log.Warnf("conn %s: SYN from %s carried %d-byte key payload, expected 0 or %d; using passthrough",
			c.ID, peer, len(f.Payload), crypto.KeySize)
	}

	if err := c.AcceptSYN(f.Seq, env); err != nil {
		r.Log.Warnf("conn %s: discarding SYN from %s: %v", c.ID, peer, err)
		return
	}

	r.Log.Debugf("conn %s: SYN from %s accepted, seq=%d", c.ID, peer, f.Seq)

	ack := wire.Frame{
		PType: wire.SynAck,
		Seq:   c.LocalSeq,
		Ack:   f.Seq,
		Wnd:   c.AdvertisedWindow(),
	}
	r.send(ack, peer)
}

func (r *Receiver) handleACK(f wire.Frame, peer *net.UDPAddr) {
	c, ok := r.connections[peer.String()]
	if !ok {
		r.Log.Debugf("ACK from unknown peer %s ignored", peer)
		return
	}
	if c.State == conn.SynReceived {
		if err := c.AcceptHandshakeACK(); err != nil {
			r.Log.Warnf("conn %s: discarding ACK from %s: %v", c.ID, peer, err)
		}
		return
	}
	// Established: informational only.
}

func (r *Receiver) handleDATA(f wire.Frame, peer *net.UDPAddr) {
	c, ok := r.connections[peer.String()]
	if !ok || c.State != conn.Established {
		r.Log.Debugf("DATA from %s rejected: not established", peer)
		return
	}

	c.PacketsRecv++
	if r.Metrics != nil {
		r.Metrics.PacketsRecv.Inc()
	}

	s := f.Seq
	switch {
	case s < c.ExpectedSeq:
		c.DuplicatesDropped++
		if r.Metrics != nil {
			r.Metrics.DuplicatesDropped.Inc()
		}
		r.sendCumulativeAck(c, peer)

	case s == c.ExpectedSeq:
		plaintext, err := c.Envelope.Decrypt(f.Payload)
		if err != nil {
			r.Log.Warnf("conn %s: dropping DATA seq=%d from %s: %v", c.ID, s, peer, err)
			r.incDropped("auth_error")
			return
		}
		c.RecvBuffer.Write(plaintext)
		c.BytesRecv += uint64(len(plaintext))
		c.ExpectedSeq++
		if r.Metrics != nil {
			r.Metrics.BytesRecv.Add(float64(len(plaintext)))
		}

		for {
			ciphertext, buffered := c.OutOfOrder[c.ExpectedSeq]
			if !buffered {
				break
			}
			delete(c.OutOfOrder, c.ExpectedSeq)
			pt, err := c.Envelope.Decrypt(ciphertext)
			if err != nil {
				r.Log.Warnf("conn %s: dropping buffered seq=%d from %s: %v", c.ID, c.ExpectedSeq, peer, err)
				break
			}
			c.RecvBuffer.Write(pt)
			c.BytesRecv += uint64(len(pt))
			c.ExpectedSeq++
			if r.Metrics != nil {
				r.Metrics.BytesRecv.Add(float64(len(pt)))
			}
		}
		c.RemoteSeq = c.ExpectedSeq - 1
		r.sendCumulativeAck(c, peer)

	default: // s > c.ExpectedSeq
		if _, buffered := c.OutOfOrder[s]; !buffered {
			c.OutOfOrder[s] = f.Payload
		}
		r.sendCumulativeAck(c, peer)
	}
}

func (r *Receiver) sendCumulativeAck(c *conn.Connection, peer *net.UDPAddr) {
	c.LastAckSent = c.ExpectedSeq - 1
	ack := wire.Frame{
		PType: wire.ACK,
		Seq:   c.LocalSeq,
		Ack:   c.LastAckSent,
		Wnd:   c.AdvertisedWindow(),
	}
	r.send(ack, peer)
}

func (r *Receiver) handleFIN(f wire.Frame, peer *net.UDPAddr) {
	key := peer.String()
	c, ok := r.connections[key]
	ack := wire.Frame{PType: wire.ACK, Ack: f.Seq}
	if ok {
		ack.Seq = c.LocalSeq
		if err := c.AcceptFIN(); err != nil {
			r.Log.Warnf("conn %s: FIN from %s in unexpected state: %v", c.ID, peer, err)
		}
		r.Log.Debugf("conn %s: tearing down connection with %s", c.ID, peer)
	}
	r.send(ack, peer)
	delete(r.connections, key)
}

func (r *Receiver) send(f wire.Frame, peer *net.UDPAddr) {
	raw, err := wire.Encode(f)
	if err != nil {
		r.Log.Errorf("encode %v for %s: %v", f.PType, peer, err)
		return
	}
	if _, err := r.udpConn.WriteToUDP(raw, peer); err != nil {
		r.Log.Warnf("send %v to %s: %v", f.PType, peer, err)
	}
}

// Close releases the listening socket and signals the run loop to stop.
func (r *Receiver) Close() error {
	r.Halt()
	if r.udpConn != nil {
		return r.udpConn.Close()
	}
	return nil
}
