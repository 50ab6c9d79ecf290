package symbols

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// ParseNM builds a Store from the text output of `nm -C -S` (demangled
// names, symbol sizes). Only text symbols are kept -- types T, t
// (global/local text) and W, w (weak, resolved/unresolved) -- matching
// the set the original tool instruments; data symbols, undefined
// references and debug-only entries are silently skipped.
//
// Each retained line is expected in the form:
//
//	<addr-hex> <size-hex> <type-char> <name>
//
// where name runs to the end of the line and is taken verbatim --
// demangled C++ names routinely contain spaces, so it is not safe to
// tokenize on whitespace past the first three fields.
func ParseNM(r io.Reader) (*Store, error) {
	type raw struct {
		addr, size uint64
		name       string
	}

	var kept []raw

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}

		parts := strings.SplitN(line, " ", 4)
		if len(parts) != 4 {
			// nm prints undefined symbols without an address field;
			// nothing we can attribute coverage to.
			continue
		}

		addr, err := strconv.ParseUint(parts[0], 16, 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseUint(parts[1], 16, 64)
		if err != nil {
			continue
		}
		if len(parts[2]) != 1 {
			continue
		}

		switch parts[2][0] {
		case 'T', 't', 'W', 'w':
		default:
			continue
		}

		name := parts[3]
		if name == "" {
			return nil, fmt.Errorf("symbols: nm entry at %#x has an empty name", addr)
		}

		kept = append(kept, raw{addr: addr, size: size, name: name})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("symbols: reading nm output: %w", err)
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].addr < kept[j].addr })

	st := NewStore()
	st.syms = make([]*Sym, len(kept))
	for i, r := range kept {
		sym := &Sym{Addr: r.addr, Size: r.size, Name: r.name, Namelen: len(r.name)}
		st.syms[i] = sym

		if sym.Addr < st.min {
			st.min = sym.Addr
		}
		if sym.End() > st.max {
			st.max = sym.End()
		}
		if _, ok := st.byName[sym.Name]; !ok {
			st.byName[sym.Name] = sym
		}
	}
	if len(st.syms) == 0 {
		st.min = 0
	}

	return st, nil
}
