package config

import (
	"fmt"
	"math"

	"github.com/BurntSushi/toml"

	"github.com/gsauthof/tcploadgen/internal/session"
	"github.com/gsauthof/tcploadgen/internal/template"
	"github.com/gsauthof/tcploadgen/internal/wire"
)

// SenderSpec is one [sender.cores] entry: its own deep copy of both
// flows (config.cc re-parses the flow per core, producing distinct
// Packet payload buffers for each sender to mutate independently) and
// the sessions assigned to it by round-robin distribution.
type SenderSpec struct {
	Core     uint32
	Priority uint32

	PreludeFlow template.Flow
	MainFlow    template.Flow

	Sessions []*session.Session
}

// Config is everything internal/orchestrator needs to build and run
// the Senders and the Receiver.
type Config struct {
	Vars     template.Store
	VarDecls template.VarDecls

	ReceiverCore uint32
	ReceiverCfg  wire.ReceiverConfig

	Senders []SenderSpec
}

// Load parses and validates the TOML configuration at filename,
// producing the structures the core consumes. Every error here is a
// configuration error: fatal before any thread is spawned.
func Load(filename string) (*Config, error) {
	raw, meta, err := decodeFile(filename)
	if err != nil {
		if _, ok := err.(toml.ParseError); ok {
			return nil, fmt.Errorf("config: parse error: %w", err)
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	vt, globalValues, err := parseVariables(meta, raw)
	if err != nil {
		return nil, err
	}

	cfg := &Config{VarDecls: vt.decls}

	if err := assignStore(globalValues, true, &cfg.VarDecls, vt.var2id, &cfg.Vars); err != nil {
		return nil, err
	}

	if len(raw.Sender.Cores) == 0 {
		return nil, fmt.Errorf("config: no sender.cores specified!")
	}

	if raw.Flow.Prelude == nil {
		return nil, fmt.Errorf("config: flow.prelude is missing")
	}
	if raw.Flow.Main == nil {
		return nil, fmt.Errorf("config: flow.main is missing")
	}

	cfg.Senders = make([]SenderSpec, len(raw.Sender.Cores))
	for i, core := range raw.Sender.Cores {
		prelude, err := parseFlow(raw.Flow.Prelude, vt.var2id)
		if err != nil {
			return nil, fmt.Errorf("config: flow.prelude: %w", err)
		}
		main, err := parseFlow(raw.Flow.Main, vt.var2id)
		if err != nil {
			return nil, fmt.Errorf("config: flow.main: %w", err)
		}
		cfg.Senders[i] = SenderSpec{
			Core:        core,
			Priority:    raw.Sender.Priority,
			PreludeFlow: prelude,
			MainFlow:    main,
		}
	}

	if err := buildSessions(raw, meta, vt, cfg); err != nil {
		return nil, err
	}

	if err := parseReceiver(raw.Receiver, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func buildSessions(raw rawConfig, meta toml.MetaData, vt varTable, cfg *Config) error {
	if len(raw.Sessions) == 0 {
		return fmt.Errorf("config: no sessions defined!")
	}

	intervalNS := raw.Sender.Session.IntervalNS
	if intervalNS == 0 {
		return fmt.Errorf("config: no sender.session.interval_ns specified")
	}
	startOffIncNS := raw.Sender.Session.StartOffIncNS
	if startOffIncNS == 0 {
		return fmt.Errorf("config: no sender.session.start_off_inc_ns specified")
	}
	startOffNS := raw.Sender.Session.StartOffNS

	sessionLimit := uint32(math.MaxUint32)
	if raw.Sender.Sessions != nil {
		sessionLimit = *raw.Sender.Sessions
	}

	i := 0
	k := uint32(0)
	for _, prim := range raw.Sessions {
		if k >= sessionLimit {
			break
		}

		var values map[string]interface{}
		if err := meta.PrimitiveDecode(prim, &values); err != nil {
			return fmt.Errorf("config: sessions[%d]: %w", k, err)
		}

		sess := &session.Session{
			StartOffNS: startOffNS,
			IntervalNS: intervalNS,
		}
		if err := assignStore(values, false, &cfg.VarDecls, vt.var2id, &sess.Vars); err != nil {
			return fmt.Errorf("config: sessions[%d]: %w", k, err)
		}

		cfg.Senders[i].Sessions = append(cfg.Senders[i].Sessions, sess)

		startOffNS += startOffIncNS
		i = (i + 1) % len(cfg.Senders)
		k++
	}

	return nil
}

func parseReceiver(rb rawReceiverBlock, cfg *Config) error {
	cfg.ReceiverCore = rb.Core
	cfg.ReceiverCfg = wire.ReceiverConfig{
		Len:         wire.Field{Off: rb.Len.Off, Size: rb.Len.Size},
		Tag:         wire.Field{Off: rb.Tag.Off, Size: rb.Tag.Size},
		ErrorTag:    rb.ErrorTag,
		ErrorMsgLen: wire.Field{Off: rb.ErrorMsgLen.Off, Size: rb.ErrorMsgLen.Size},
		ErrorMsgOff: rb.ErrorMsgOff,
	}

	for name, f := range map[string]wire.Field{
		"len":           cfg.ReceiverCfg.Len,
		"tag":           cfg.ReceiverCfg.Tag,
		"error_msg_len": cfg.ReceiverCfg.ErrorMsgLen,
	} {
		if !wire.ValidSize(f.Size) {
			return fmt.Errorf("config: receiver.%s.size must be one of 1,2,4,8 (got %d)", name, f.Size)
		}
	}

	return nil
}
