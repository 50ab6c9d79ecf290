// Package coverage emits per-symbol execution coverage accumulated in
// a symbols.Store, in any of the formats this tool understands: a raw
// per-word dump, Cachegrind, GCOV, QCOV, and LCOV.
package coverage

import (
	"fmt"
	"io"
	"os"

	"github.com/edgarigl/qemu-etrace/exclude"
	"github.com/edgarigl/qemu-etrace/symbols"
)

// Format selects the coverage output this tool produces.
type Format int

const (
	None Format = iota
	ETrace
	Cachegrind
	Gcov
	QCOV
	LCOV
)

// ParseFormat maps a --coverage-format flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "none":
		return None, nil
	case "etrace":
		return ETrace, nil
	case "cachegrind":
		return Cachegrind, nil
	case "gcov":
		return Gcov, nil
	case "qcov":
		return QCOV, nil
	case "lcov":
		return LCOV, nil
	default:
		return None, fmt.Errorf("coverage: unknown format %q", s)
	}
}

// Emit writes store's accumulated coverage to filename (or stdout if
// filename is empty) in the given format. gcovStrip/gcovPrefix/excludeFile
// only apply to the GCOV/QCOV/LCOV formats.
func Emit(store *symbols.Store, filename string, format Format, gcovStrip, gcovPrefix, excludeFile string) error {
	var ex *exclude.List
	if excludeFile != "" {
		f, err := os.Open(excludeFile)
		if err != nil {
			return fmt.Errorf("coverage: opening exclude file: %w", err)
		}
		defer f.Close()

		ex, err = exclude.Parse(f)
		if err != nil {
			return fmt.Errorf("coverage: parsing exclude file: %w", err)
		}
	}

	var w io.Writer = os.Stdout
	if filename != "" {
		f, err := os.Create(filename)
		if err != nil {
			return fmt.Errorf("coverage: %w", err)
		}
		defer f.Close()
		w = f
	}

	fmt.Fprintln(os.Stderr, "Generating coverage output")

	switch format {
	case None:
		return nil
	case ETrace:
		dump(store, w)
		return nil
	case Cachegrind:
		dumpCachegrind(store, w)
		return nil
	default:
		return emitGcovFamily(store, w, format, gcovStrip, gcovPrefix, ex)
	}
}

// dump writes the raw per-word coverage dump: one line per 4-byte word
// of every symbol, plus a trailing line for whatever the trace
// attributed to no known symbol.
func dump(store *symbols.Store, w io.Writer) {
	for _, sym := range store.All() {
		dumpSym(sym, w)
	}
	fmt.Fprintf(w, "%d x unknown\n", store.Unknown().TotalTime)
}

func dumpSym(sym *symbols.Sym, w io.Writer) {
	srcFilename := sym.SrcFilename
	if srcFilename == "" {
		srcFilename = "unknown"
	}

	end := sym.End()
	i := 0
	for addr := sym.Addr; addr < end; addr += 4 {
		var v uint64
		if sym.Cov != nil {
			v = sym.Cov[i]
		}

		var linenr uint32
		if sym.Linemap != nil && sym.Linemap[i] != nil {
			linenr = sym.Linemap[i].Linenr
		}

		fmt.Fprintf(w, "%d %x %s %s:%d\n", v, addr, sym.Name, srcFilename, linenr)
		i++
	}
}
