package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/katzenpost/rudp/bench"
)

var benchResultsPath string

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run the fixed evaluation matrix (clean / 5% loss / 10% loss, crypto on/off) and report throughput",
	RunE: func(cmd *cobra.Command, args []string) error {
		results, errs := bench.Run(bench.DefaultScenarios())
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, err)
		}

		fmt.Printf("%-20s %10s %15s %8s %10s\n", "scenario", "packets", "kbps", "retx", "seconds")
		for _, r := range results {
			fmt.Printf("%-20s %10d %15.2f %8d %10.2f\n",
				r.Scenario, r.PacketsSent, r.ThroughputKbps, r.Retransmissions, float64(r.TimeMs)/1000)
		}

		if benchResultsPath != "" {
			f, err := os.Create(benchResultsPath)
			if err != nil {
				return fmt.Errorf("bench: %w", err)
			}
			defer f.Close()
			enc := json.NewEncoder(f)
			enc.SetIndent("", "  ")
			if err := enc.Encode(results); err != nil {
				return fmt.Errorf("bench: write results: %w", err)
			}
		}

		if len(errs) > 0 {
			return fmt.Errorf("bench: %d of %d scenarios failed", len(errs), len(errs)+len(results))
		}
		return nil
	},
}

func init() {
	benchCmd.Flags().StringVar(&benchResultsPath, "results", "", "if set, write the Result matrix as JSON to this path")
}
