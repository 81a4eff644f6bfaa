// Package orchestrator wires the pipe between every Sender and the
// Receiver, spawns their threads with the configured affinity/realtime
// attributes, joins them, and aggregates the resulting counters.
package orchestrator

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/gsauthof/tcploadgen/internal/affinity"
	"github.com/gsauthof/tcploadgen/internal/config"
	"github.com/gsauthof/tcploadgen/internal/receiver"
	"github.com/gsauthof/tcploadgen/internal/sender"
)

// Options carries the parts of the CLI surface the core needs but that
// are not part of the TOML configuration.
type Options struct {
	Host string
	Port string

	// SenderCountOverride truncates the configured sender list to this
	// many entries (CLI `-j N`). Zero means no truncation.
	SenderCountOverride int

	// SendBudget is the per-sender cap on main-flow packets to emit
	// (CLI `-n N`). Zero means no main-flow packet is sent: each sender
	// still connects and runs the prelude, then shuts its sessions down
	// at the first timer event.
	SendBudget uint64

	// Affinity, when true, pins each thread to its configured core
	// (CLI default; disabled by `-A`).
	Affinity bool

	// SchedPolicy is applied to every Sender thread (`-s` selects
	// LowTimerslack over the default RealtimeFIFO1).
	SchedPolicy affinity.Policy
}

// SenderReport is one Sender's final counters, read only after Run has
// joined every thread.
type SenderReport struct {
	Core             int
	SendCount        uint64
	MissedTimerCount uint64
}

// Report aggregates the run's outcome for the caller (cmd/tcploadgen) to
// print and turn into an exit status.
type Report struct {
	ReceiveCount uint64
	Senders      []SenderReport
	Success      bool
}

// Run builds the Receiver and every Sender from cfg and opts, runs them
// to completion, and returns the aggregated report. A non-nil error is
// the first failure observed across any thread; Report.Success mirrors
// it for callers that only care about the exit status.
func Run(cfg *config.Config, opts Options) (Report, error) {
	specs := cfg.Senders
	if opts.SenderCountOverride > 0 && opts.SenderCountOverride < len(specs) {
		specs = specs[:opts.SenderCountOverride]
	}

	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return Report{}, fmt.Errorf("orchestrator: pipe: %w", err)
	}
	pipeReadFD, pipeWriteFD := p[0], p[1]

	recv := &receiver.Receiver{
		Cfg:        cfg.ReceiverCfg,
		PipeReadFD: pipeReadFD,
		Affinity:   opts.Affinity,
		Core:       int(cfg.ReceiverCore),
	}

	senders := make([]*sender.Sender, len(specs))
	for i, spec := range specs {
		senders[i] = &sender.Sender{
			Cfg: &sender.Config{
				Vars:           cfg.Vars,
				VarDecls:       cfg.VarDecls,
				ReceiverPipeFD: pipeWriteFD,
			},
			ReceiverCfg: cfg.ReceiverCfg,
			PreludeFlow: spec.PreludeFlow,
			MainFlow:    spec.MainFlow,
			Sessions:    spec.Sessions,
			Host:        opts.Host,
			Port:        opts.Port,
			Core:        int(spec.Core),
			Affinity:    opts.Affinity,
			SchedPolicy: opts.SchedPolicy,
			Priority:    spec.Priority,
			SendBudget:  opts.SendBudget,
		}
	}

	results := make([]error, 1+len(senders))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = recv.Run()
	}()

	for i, s := range senders {
		wg.Add(1)
		go func(i int, s *sender.Sender) {
			defer wg.Done()
			results[i+1] = s.Run()
		}(i, s)
	}

	wg.Wait()

	var firstErr error
	success := true
	for _, err := range results {
		if err != nil {
			success = false
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	report := Report{
		ReceiveCount: recv.ReceiveCount,
		Success:      success,
	}
	for _, s := range senders {
		report.Senders = append(report.Senders, SenderReport{
			Core:             s.Core,
			SendCount:        s.SendCount,
			MissedTimerCount: s.MissedTimerCount,
		})
	}

	if !success {
		return report, firstErr
	}
	return report, nil
}
