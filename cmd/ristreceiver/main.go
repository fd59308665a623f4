// Command ristreceiver runs a standalone RIST receiving context, printing
// each delivered payload to stdout on its own line. Grounded on the
// teacher's core/main.go entrypoint shape: banner, flag-driven config,
// goroutine-run work with a signal-driven graceful shutdown.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ristgo/rist/pkg/logging"
	"github.com/ristgo/rist/pkg/rist"
)

const version = "0.1.0"

func main() {
	logging.Section("RIST Receiver")

	localAddr := flag.String("listen", "0.0.0.0:0", "local UDP address to bind")
	peerAddr := flag.String("peer", "", "remote peer UDP address (required)")
	flowID := flag.Uint("flow-id", 1, "RIST flow id")
	passphrase := flag.String("passphrase", "", "optional AES decryption passphrase")
	flag.Parse()

	if *peerAddr == "" {
		fmt.Fprintln(os.Stderr, "ristreceiver: -peer is required")
		os.Exit(2)
	}

	cfg := rist.DefaultConfig()
	cfg.FlowID = uint32(*flowID)
	cfg.EncryptionPassphrase = *passphrase
	cfg.MetricsRegistry = prometheus.NewRegistry()

	receiver, err := rist.NewReceiver(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ristreceiver: configure: %v\n", err)
		os.Exit(1)
	}
	defer receiver.Destroy()

	receiver.DataCallbackSet(func(flowID uint32, payload []byte) {
		os.Stdout.Write(payload)
		os.Stdout.Write([]byte("\n"))
	})

	local, err := net.ResolveUDPAddr("udp", *localAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ristreceiver: resolve -listen: %v\n", err)
		os.Exit(1)
	}
	remote, err := net.ResolveUDPAddr("udp", *peerAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ristreceiver: resolve -peer: %v\n", err)
		os.Exit(1)
	}

	if err := receiver.Start(local); err != nil {
		fmt.Fprintf(os.Stderr, "ristreceiver: start: %v\n", err)
		os.Exit(1)
	}
	if _, err := receiver.PeerCreate(rist.PeerConfig{Address: remote, Weight: 5}); err != nil {
		fmt.Fprintf(os.Stderr, "ristreceiver: peer create: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "ristreceiver %s: flow %d <- %s\n", version, cfg.FlowID, remote)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	fmt.Fprintf(os.Stderr, "ristreceiver: received %v, shutting down\n", sig)
}
