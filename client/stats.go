package client

// TransferStats carries the telemetry produced by a single Send call, for
// protocol evaluation and benchmarking.
type TransferStats struct {
	PacketsSent     int
	BytesSent       int
	TimeMs          int64
	ThroughputKbps  float64
	Retransmissions int
	CwndHistory     []uint32
}
