// Package bench runs fixed evaluation scenarios against a real
// server.Receiver/client.Sender pair and collects the same scenario metrics
// the reference implementation's benchmark script reports: packet and byte
// counts, elapsed time, throughput, retransmissions, the configured drop
// rate, and whether congestion control and crypto were active.
package bench

import (
	"crypto/rand"
	"fmt"
	"net"
	"time"

	"github.com/katzenpost/rudp/client"
	"github.com/katzenpost/rudp/server"
)

// Result mirrors the reference BenchmarkResult record.
type Result struct {
	Scenario          string  `json:"scenario"`
	PacketsSent       int     `json:"packets_sent"`
	BytesSent         int     `json:"bytes_sent"`
	TimeMs            int64   `json:"time_ms"`
	ThroughputKbps    float64 `json:"throughput_kbps"`
	Retransmissions   int     `json:"retransmissions"`
	DropRate          float64 `json:"drop_rate"`
	CongestionControl bool    `json:"congestion_control"`
	Crypto            bool    `json:"crypto"`
}

// Scenario describes one point in the evaluation matrix.
type Scenario struct {
	Name      string
	DataSize  int
	DropRate  float64
	UseCrypto bool
	Timeout   time.Duration
}

// DefaultScenarios reproduces the reference benchmark script's matrix: a
// 10MiB payload (about ten thousand PayloadUnit-sized fragments) run clean
// and under 5%/10% loss, with and without crypto.
func DefaultScenarios() []Scenario {
	const dataSize = 10 * 1024 * 1024
	return []Scenario{
		{Name: "clean+crypto", DataSize: dataSize, DropRate: 0, UseCrypto: true, Timeout: 500 * time.Millisecond},
		{Name: "clean+plain", DataSize: dataSize, DropRate: 0, UseCrypto: false, Timeout: 500 * time.Millisecond},
		{Name: "5pct_loss+crypto", DataSize: dataSize, DropRate: 0.05, UseCrypto: true, Timeout: 300 * time.Millisecond},
		{Name: "10pct_loss+crypto", DataSize: dataSize, DropRate: 0.10, UseCrypto: true, Timeout: 300 * time.Millisecond},
		{Name: "5pct_loss+plain", DataSize: dataSize, DropRate: 0.05, UseCrypto: false, Timeout: 300 * time.Millisecond},
	}
}

// Run executes every scenario in order, on a fresh Receiver/Sender pair
// each time, and returns one Result per scenario that completed. A scenario
// whose transfer aborts is logged via the returned error but does not stop
// the remaining scenarios; call RunScenario directly for single-scenario
// control.
func Run(scenarios []Scenario) ([]Result, []error) {
	var results []Result
	var errs []error
	for _, sc := range scenarios {
		r, err := RunScenario(sc)
		if err != nil {
			errs = append(errs, fmt.Errorf("bench: scenario %q: %w", sc.Name, err))
			continue
		}
		results = append(results, r)
	}
	return results, errs
}

// RunScenario spins up a Receiver bound to an ephemeral port, connects a
// Sender to it, transfers a synthetic payload of sc.DataSize random bytes,
// and reports the resulting Result.
func RunScenario(sc Scenario) (Result, error) {
	recv := server.New("127.0.0.1", 0, sc.DropRate)
	runErrCh := make(chan error, 1)
	go func() { runErrCh <- recv.Run() }()
	defer recv.Close()

	for i := 0; i < 200 && recv.LocalAddr() == nil; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	addr, ok := recv.LocalAddr().(*net.UDPAddr)
	if !ok || addr == nil {
		return Result{}, fmt.Errorf("receiver never bound")
	}

	s := client.New(addr.IP.String(), addr.Port, sc.Timeout, sc.UseCrypto)
	if ok, err := s.Connect(); !ok || err != nil {
		return Result{}, fmt.Errorf("connect: %w", err)
	}

	data := make([]byte, sc.DataSize)
	if _, err := rand.Read(data); err != nil {
		return Result{}, fmt.Errorf("generate payload: %w", err)
	}

	stats, sendErr := s.Send(data)
	_ = s.Close()
	if sendErr != nil {
		return Result{}, sendErr
	}

	return Result{
		Scenario:          sc.Name,
		PacketsSent:       stats.PacketsSent,
		BytesSent:         stats.BytesSent,
		TimeMs:            stats.TimeMs,
		ThroughputKbps:    stats.ThroughputKbps,
		Retransmissions:   stats.Retransmissions,
		DropRate:          sc.DropRate,
		CongestionControl: true,
		Crypto:            sc.UseCrypto,
	}, nil
}
