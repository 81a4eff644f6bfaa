package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/gsauthof/tcploadgen/internal/template"
)

// varTable is the parsed Variable Declaration Table plus the name->slot
// mapping parseVariables builds while it walks [variables] in file order.
type varTable struct {
	decls  template.VarDecls
	var2id map[string]int // 0-based decl index, 0..15
}

// parseVariables implements the [variables]/[global] rule: up to 8
// names also present in [global] become global slots (0..7, in file
// order), the rest become local slots (8..15, in file order).
func parseVariables(meta toml.MetaData, raw rawConfig) (varTable, map[string]interface{}, error) {
	var decl map[string]rawVarDecl
	if err := meta.PrimitiveDecode(raw.Variables, &decl); err != nil {
		return varTable{}, nil, fmt.Errorf("config: [variables]: %w", err)
	}
	if decl == nil {
		return varTable{}, nil, fmt.Errorf("config: [variables] table is missing")
	}

	var globals map[string]interface{}
	if err := meta.PrimitiveDecode(raw.Global, &globals); err != nil {
		return varTable{}, nil, fmt.Errorf("config: [global]: %w", err)
	}

	names := orderedKeys(meta, "variables")

	vt := varTable{var2id: make(map[string]int, len(names))}
	globalReg := 0
	localReg := template.NumGlobalSlots

	for _, name := range names {
		d, ok := decl[name]
		if !ok {
			continue
		}
		if d.Size < 1 || d.Size > template.CellSize {
			return varTable{}, nil, fmt.Errorf("config: variable %q has invalid size %d", name, d.Size)
		}

		var idx int
		if _, isGlobal := globals[name]; isGlobal {
			idx = globalReg
			globalReg++
			if idx >= template.NumGlobalSlots {
				return varTable{}, nil, fmt.Errorf("config: too many global variables")
			}
		} else {
			idx = localReg
			localReg++
			if idx >= template.NumSlots {
				return varTable{}, nil, fmt.Errorf("config: too many local variables")
			}
		}

		vt.decls.Sizes[idx] = uint8(d.Size)
		vt.decls.Offs[idx] = d.Off
		vt.var2id[name] = idx
	}

	return vt, globals, nil
}

// orderedKeys returns the immediate child keys of the dotted path
// tbl (e.g. "variables") in the order they appeared in the source file.
// toml.Decode's ordinary struct/map decoding loses this order (Go maps
// are unordered); MetaData.Keys() is the only part of the decode that
// preserves it.
func orderedKeys(meta toml.MetaData, tbl string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, k := range meta.Keys() {
		if len(k) != 2 || k[0] != tbl {
			continue
		}
		if !seen[k[1]] {
			seen[k[1]] = true
			names = append(names, k[1])
		}
	}
	return names
}

// assignStore writes the name->value pairs in values into store,
// resolving each name through var2id and enforcing the scope match:
// writing to a global name from a session context is a configuration
// error, and the converse for [global] itself.
func assignStore(values map[string]interface{}, isGlobal bool, decls *template.VarDecls, var2id map[string]int, store *template.Store) error {
	for name, raw := range values {
		idx, ok := var2id[name]
		if !ok {
			return fmt.Errorf("config: unknown variable: %s", name)
		}
		if isGlobal && !template.IsGlobalIndex(idx) {
			return fmt.Errorf("config: accessing a local variable %q from a global context", name)
		}
		if !isGlobal && template.IsGlobalIndex(idx) {
			return fmt.Errorf("config: accessing a global variable %q from a local context", name)
		}

		size := decls.Sizes[idx]
		cellIdx := template.StoreIndex(idx)

		var b []byte
		switch v := raw.(type) {
		case int64:
			b = encodeIntLE(uint64(v), size)
		case string:
			b = []byte(v)
			if len(b) > int(size) {
				b = b[:size]
			}
		default:
			return fmt.Errorf("config: unsupported value type for %q", name)
		}

		if err := store.Set(cellIdx, b); err != nil {
			return fmt.Errorf("config: writing %q: %w", name, err)
		}
	}
	return nil
}

func encodeIntLE(v uint64, size uint8) []byte {
	b := make([]byte, size)
	for i := 0; i < int(size); i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
	return b
}
