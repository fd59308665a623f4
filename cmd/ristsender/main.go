// Command ristsender runs a standalone RIST sending context, reading
// payloads from stdin (one datagram per line) and pushing them to a single
// configured peer. Grounded on the teacher's core/main.go entrypoint shape:
// banner, flag-driven config, goroutine-run work with a signal-driven
// graceful shutdown.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ristgo/rist/pkg/logging"
	"github.com/ristgo/rist/pkg/rist"
)

const version = "0.1.0"

func main() {
	logging.Section("RIST Sender")

	localAddr := flag.String("listen", "0.0.0.0:0", "local UDP address to bind")
	peerAddr := flag.String("peer", "", "remote peer UDP address (required)")
	flowID := flag.Uint("flow-id", 1, "RIST flow id")
	passphrase := flag.String("passphrase", "", "optional AES encryption passphrase")
	flag.Parse()

	if *peerAddr == "" {
		fmt.Fprintln(os.Stderr, "ristsender: -peer is required")
		os.Exit(2)
	}

	cfg := rist.DefaultConfig()
	cfg.FlowID = uint32(*flowID)
	cfg.EncryptionPassphrase = *passphrase
	cfg.MetricsRegistry = prometheus.NewRegistry()

	sender, err := rist.NewSender(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ristsender: configure: %v\n", err)
		os.Exit(1)
	}
	defer sender.Destroy()

	local, err := net.ResolveUDPAddr("udp", *localAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ristsender: resolve -listen: %v\n", err)
		os.Exit(1)
	}
	remote, err := net.ResolveUDPAddr("udp", *peerAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ristsender: resolve -peer: %v\n", err)
		os.Exit(1)
	}

	if err := sender.Start(local); err != nil {
		fmt.Fprintf(os.Stderr, "ristsender: start: %v\n", err)
		os.Exit(1)
	}
	if _, err := sender.PeerCreate(rist.PeerConfig{Address: remote, Weight: 5}); err != nil {
		fmt.Fprintf(os.Stderr, "ristsender: peer create: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "ristsender %s: flow %d -> %s\n", version, cfg.FlowID, remote)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)
		for scanner.Scan() {
			if err := sender.DataWrite(scanner.Bytes()); err != nil {
				errChan <- err
				return
			}
		}
		errChan <- scanner.Err()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			fmt.Fprintf(os.Stderr, "ristsender: %v\n", err)
		}
	case sig := <-sigChan:
		fmt.Fprintf(os.Stderr, "ristsender: received %v, shutting down\n", sig)
	}

	time.Sleep(50 * time.Millisecond) // let any in-flight writes drain
}
