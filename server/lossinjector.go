package server

import "math/rand"

// LossInjector returns drop with independent probability p on each call, a
// deterministic Bernoulli process used to exercise retransmission and
// congestion control under controlled loss. It is applied uniformly to every
// inbound datagram, including control frames, so the handshake and teardown
// are exercised under loss as well as DATA.
type LossInjector struct {
	p   float64
	rng *rand.Rand
}

// NewLossInjector builds a LossInjector with drop probability p, clamped to
// [0, 1] by ShouldDrop's edge-case handling. seed selects the PRNG stream;
// pass the same seed across runs to reproduce a benchmark scenario exactly.
func NewLossInjector(p float64, seed int64) *LossInjector {
	return &LossInjector{p: p, rng: rand.New(rand.NewSource(seed))}
}

// ShouldDrop reports whether the next datagram should be discarded.
func (l *LossInjector) ShouldDrop() bool {
	if l.p <= 0 {
		return false
	}
	if l.p >= 1 {
		return true
	}
	return l.rng.Float64() < l.p
}
