package client

import "github.com/katzenpost/rudp/core/conn"

// updateCongestionWindow applies the post-chunk congestion-control update:
// on a clean delivery, slow start doubles cwnd (capped at ssthresh) and
// congestion avoidance adds one; a delivery that needed at least one
// retransmission sets ssthresh to half of cwnd (at least 1) and resets cwnd
// to its initial value, mirroring a timeout-triggered multiplicative
// decrease.
func updateCongestionWindow(c *conn.Connection, retries int) {
	if retries == 0 {
		if c.Cwnd < c.Ssthresh {
			c.Cwnd = minU32(c.Cwnd*2, c.Ssthresh)
		} else {
			c.Cwnd++
		}
		return
	}
	c.Ssthresh = maxU32(c.Cwnd/2, 1)
	c.Cwnd = conn.InitialCwnd
}

// effectiveWindow is the scalar capacity predictor recorded for telemetry.
// The sender remains stop-and-wait regardless of its value; see the design
// notes on stop-and-wait vs. windowed send.
func effectiveWindow(c *conn.Connection) uint32 {
	return minU32(c.Cwnd, c.RemoteWnd)
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
