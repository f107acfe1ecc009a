package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/katzenpost/rudp/internal/metrics"
	"github.com/katzenpost/rudp/server"
)

var (
	serverBind        string
	serverPort        int
	serverDropProb    float64
	serverMetricsAddr string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the rudp receiver, accepting connections and reassembling transfers",
	RunE: func(cmd *cobra.Command, args []string) error {
		r := server.New(serverBind, serverPort, serverDropProb)
		reg := metrics.NewRegistry()
		r.Metrics = reg

		if serverMetricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", reg.Handler())
			go func() {
				if err := http.ListenAndServe(serverMetricsAddr, mux); err != nil {
					r.Log.Errorf("metrics listener: %v", err)
				}
			}()
			r.Log.Infof("metrics exposed on %s/metrics", serverMetricsAddr)
		}

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-stop
			r.Log.Infof("shutting down")
			r.Close()
		}()

		if err := r.Run(); err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	},
}

func init() {
	serverCmd.Flags().StringVar(&serverBind, "bind", "0.0.0.0", "address to bind the UDP socket to")
	serverCmd.Flags().IntVar(&serverPort, "port", 9000, "UDP port to listen on")
	serverCmd.Flags().Float64Var(&serverDropProb, "drop", 0, "probability in [0,1] of dropping an inbound datagram, for loss evaluation")
	serverCmd.Flags().StringVar(&serverMetricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics at http://ADDR/metrics")
}
