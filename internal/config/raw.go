// Package config loads the TOML configuration file into the
// structures internal/orchestrator, internal/sender and
// internal/receiver consume. Unlike a straight Decode into a flat
// struct, slot allocation order, global/local scope classification and
// round-robin session distribution are all order- and side-effect
// sensitive, so the raw tree is walked by hand rather than deserialized
// into a single struct.
package config

import "github.com/BurntSushi/toml"

// rawConfig mirrors the top-level TOML sections. Sub-trees whose
// structure depends on run-time logic (variables, global, sessions) are
// kept as toml.Primitive and decoded explicitly in vars.go, so their key
// order (for [variables]) and heterogeneous value types (for [global]
// and session tables) can be handled correctly.
type rawConfig struct {
	Variables toml.Primitive `toml:"variables"`
	Global    toml.Primitive `toml:"global"`
	Sessions  []toml.Primitive `toml:"sessions"`

	Flow struct {
		Prelude []rawPacket `toml:"prelude"`
		Main    []rawPacket `toml:"main"`
	} `toml:"flow"`

	Sender   rawSenderBlock   `toml:"sender"`
	Receiver rawReceiverBlock `toml:"receiver"`
}

type rawVarDecl struct {
	Off  uint32 `toml:"off"`
	Size uint32 `toml:"size"`
}

type rawPacket struct {
	Pkt       string       `toml:"pkt"`
	Vars      []string     `toml:"vars"`
	Actions   []rawAction  `toml:"actions"`
	AnswerTag uint32       `toml:"answer_tag"`
}

type rawAction struct {
	Op   string `toml:"op"`
	Name string `toml:"name"`
}

type rawSenderSession struct {
	IntervalNS    uint64 `toml:"interval_ns"`
	StartOffIncNS uint64 `toml:"start_off_inc_ns"`
	StartOffNS    uint64 `toml:"start_off_ns"`
}

type rawSenderBlock struct {
	Cores    []uint32         `toml:"cores"`
	Priority uint32           `toml:"priority"`
	Sessions *uint32          `toml:"sessions"`
	Session  rawSenderSession `toml:"session"`
}

type rawField struct {
	Off  uint32 `toml:"off"`
	Size uint32 `toml:"size"`
}

type rawReceiverBlock struct {
	Core        uint32   `toml:"core"`
	ErrorTag    uint32   `toml:"error_tag"`
	ErrorMsgOff uint32   `toml:"error_msg_off"`
	Len         rawField `toml:"len"`
	Tag         rawField `toml:"tag"`
	ErrorMsgLen rawField `toml:"error_msg_len"`
}

// decodeFile parses filename into a rawConfig plus the toml.MetaData
// needed to recover [variables]'s declaration order.
func decodeFile(filename string) (rawConfig, toml.MetaData, error) {
	var raw rawConfig
	meta, err := toml.DecodeFile(filename, &raw)
	return raw, meta, err
}
