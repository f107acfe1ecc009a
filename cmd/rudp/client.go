package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/katzenpost/rudp/client"
	"github.com/katzenpost/rudp/core/crypto"
)

var (
	clientHost    string
	clientPort    int
	clientTimeout time.Duration
	clientMessage string
	clientFile    string
	clientBytes   int
	clientCrypto  bool
	clientKey     string
	clientResults string
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Connect to a rudp server and send a payload",
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := resolvePayload()
		if err != nil {
			return err
		}

		s := client.New(clientHost, clientPort, clientTimeout, clientCrypto)
		if clientKey != "" {
			key, err := crypto.DecodeKey(clientKey)
			if err != nil {
				return fmt.Errorf("client: %w", err)
			}
			s.WithEnvelope(crypto.NewAEAD(key))
		}

		if ok, err := s.Connect(); !ok || err != nil {
			return fmt.Errorf("client: connect failed: %w", err)
		}

		stats, sendErr := s.Send(payload)
		if closeErr := s.Close(); closeErr != nil {
			s.Log.Warnf("close: %v", closeErr)
		}
		if sendErr != nil {
			return fmt.Errorf("client: send failed: %w", sendErr)
		}

		s.Log.Infof("transfer complete: %d bytes in %dms (%.2f kbps, %d retransmissions)",
			stats.BytesSent, stats.TimeMs, stats.ThroughputKbps, stats.Retransmissions)

		if clientResults != "" {
			if err := writeResults(clientResults, stats); err != nil {
				return fmt.Errorf("client: write results: %w", err)
			}
		}
		return nil
	},
}

func resolvePayload() ([]byte, error) {
	switch {
	case clientFile != "":
		return os.ReadFile(clientFile)
	case clientBytes > 0:
		buf := make([]byte, clientBytes)
		for i := range buf {
			buf[i] = byte(i % 256)
		}
		return buf, nil
	default:
		return []byte(clientMessage), nil
	}
}

func writeResults(path string, stats client.TransferStats) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

func init() {
	clientCmd.Flags().StringVar(&clientHost, "host", "127.0.0.1", "server host to connect to")
	clientCmd.Flags().IntVar(&clientPort, "port", 9000, "server UDP port")
	clientCmd.Flags().DurationVar(&clientTimeout, "timeout", client.DefaultTimeout, "per-frame acknowledgment timeout")
	clientCmd.Flags().StringVar(&clientMessage, "message", "hello, rudp", "payload to send, if --file and --bytes are unset")
	clientCmd.Flags().StringVar(&clientFile, "file", "", "path to a file to send as the payload")
	clientCmd.Flags().IntVar(&clientBytes, "bytes", 0, "send a synthetic payload of this many bytes, for benchmarking")
	clientCmd.Flags().BoolVar(&clientCrypto, "crypto", false, "negotiate an AEAD envelope instead of sending in the clear")
	clientCmd.Flags().StringVar(&clientKey, "key", "", "pre-shared key (as produced by 'rudp keygen') to use instead of generating one")
	clientCmd.Flags().StringVar(&clientResults, "results", "", "if set, write TransferStats as JSON to this path")
}
