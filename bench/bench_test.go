package bench

import (
	"testing"
	"time"
)

func TestRunScenarioCleanSmallPayload(t *testing.T) {
	sc := Scenario{Name: "test-clean", DataSize: 4096, DropRate: 0, UseCrypto: false, Timeout: 500 * time.Millisecond}
	result, err := RunScenario(sc)
	if err != nil {
		t.Fatalf("run scenario: %v", err)
	}
	if result.BytesSent != sc.DataSize {
		t.Fatalf("expected %d bytes sent, got %d", sc.DataSize, result.BytesSent)
	}
	if result.Retransmissions != 0 {
		t.Fatalf("expected no retransmissions on a clean scenario, got %d", result.Retransmissions)
	}
	if !result.CongestionControl {
		t.Fatal("expected congestion_control to be reported true")
	}
}

func TestRunScenarioWithCrypto(t *testing.T) {
	sc := Scenario{Name: "test-crypto", DataSize: 2048, DropRate: 0, UseCrypto: true, Timeout: 500 * time.Millisecond}
	result, err := RunScenario(sc)
	if err != nil {
		t.Fatalf("run scenario: %v", err)
	}
	if !result.Crypto {
		t.Fatal("expected crypto to be reported true")
	}
	if result.BytesSent != sc.DataSize {
		t.Fatalf("expected %d bytes sent, got %d", sc.DataSize, result.BytesSent)
	}
}

func TestRunToleratesLossyScenario(t *testing.T) {
	sc := Scenario{Name: "test-lossy", DataSize: 8192, DropRate: 0.1, UseCrypto: false, Timeout: 200 * time.Millisecond}
	result, err := RunScenario(sc)
	if err != nil {
		t.Fatalf("run scenario: %v", err)
	}
	if result.BytesSent != sc.DataSize {
		t.Fatalf("expected %d bytes sent despite loss, got %d", sc.DataSize, result.BytesSent)
	}
}
