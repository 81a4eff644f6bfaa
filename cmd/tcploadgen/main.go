// Command tcploadgen is a deterministic TCP load generator: it opens N
// long-lived sessions to a target service, runs a per-session login
// handshake, then emits a cyclic flow of binary packets at precise,
// evenly-staggered intervals while validating server responses.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/gsauthof/tcploadgen/internal/affinity"
	"github.com/gsauthof/tcploadgen/internal/config"
	"github.com/gsauthof/tcploadgen/internal/orchestrator"
)

func usage() {
	fmt.Fprintf(os.Stderr, `%[1]s - tcp load generator
Usage: %[1]s -c FILENAME HOST PORT

Options:
  -A             do NOT set thread CPU affinities
  -c FILENAME    TOML configuration
  -debug         enable debug logging
  -j SENDERS     number of sender threads
  -n PKTS        packets to send for each sender
  -s             use 1 ns timerslack instead of realtime sched policy
  -h             display this help
`, os.Args[0])
}

func main() {
	os.Exit(run())
}

func run() int {
	flag.Usage = usage

	configFile := flag.String("c", "", "TOML configuration")
	senderCount := flag.Int("j", 0, "number of sender threads")
	sendBudget := flag.Uint64("n", 0, "packets to send for each sender")
	timerslack := flag.Bool("s", false, "use 1 ns timerslack instead of realtime sched policy")
	noAffinity := flag.Bool("A", false, "do NOT set thread CPU affinities")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))

	if *configFile == "" {
		fmt.Fprintln(os.Stderr, "Error: no configuration file specified (cf. -c FILENAME)")
		usage()
		return 1
	}
	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: no host specified (positional argument)")
		usage()
		return 1
	}
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "Error: no port specified (positional argument)")
		usage()
		return 1
	}
	host, port := args[0], args[1]

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return 1
	}

	schedPolicy := affinity.RealtimeFIFO1
	if *timerslack {
		schedPolicy = affinity.LowTimerslack
	}

	opts := orchestrator.Options{
		Host:                host,
		Port:                port,
		SenderCountOverride: *senderCount,
		SendBudget:          *sendBudget,
		Affinity:            !*noAffinity,
		SchedPolicy:         schedPolicy,
	}

	report, err := orchestrator.Run(cfg, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}

	fmt.Printf("Received messages: %d\n", report.ReceiveCount)
	for _, s := range report.Senders {
		fmt.Printf("Sent messages on core %d: %d\n", s.Core, s.SendCount)
		fmt.Printf("Missed timer events on core %d: %d\n", s.Core, s.MissedTimerCount)
	}

	if !report.Success {
		return 1
	}
	return 0
}
