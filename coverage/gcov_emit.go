package coverage

import (
	"fmt"
	"io"
	"os"

	"github.com/edgarigl/qemu-etrace/coverage/gcov"
	"github.com/edgarigl/qemu-etrace/exclude"
	"github.com/edgarigl/qemu-etrace/pathutil"
	"github.com/edgarigl/qemu-etrace/symbols"
)

// emitGcovFamily drives the GCOV/QCOV/LCOV output paths, which all
// start from the same per-file line accumulators built by processSym.
// GCOV itself ignores those accumulators and instead drives the
// GCNO->GCDA transform straight off the symbol table.
func emitGcovFamily(store *symbols.Store, w io.Writer, format Format, gcovStrip, gcovPrefix string, ex *exclude.List) error {
	set := newGcovFileSet()
	for _, sym := range store.All() {
		processSym(set, sym)
	}

	for _, f := range set.all() {
		switch format {
		case QCOV:
			if err := emitQCOVFile(f, gcovStrip, gcovPrefix); err != nil {
				return err
			}
		case LCOV:
			emitLCOVInfo(f, w, ex)
		}
	}

	if format == Gcov {
		loadGcnos(store, gcovStrip, gcovPrefix)
	}
	return nil
}

// loadGcnos finds every symbol's backing .gcno file and runs the
// GCNO->GCDA transform over it once per distinct file.
func loadGcnos(store *symbols.Store, gcovStrip, gcovPrefix string) {
	done := make(map[string]bool)

	for _, sym := range store.All() {
		if sym.SrcFilename == "" {
			continue
		}

		gcno, ok := pathutil.MapSrcFilename(sym.SrcFilename, gcovStrip, gcovPrefix, true, ".gcno")
		if !ok {
			continue
		}
		gcda, ok := pathutil.MapSrcFilename(sym.SrcFilename, gcovStrip, gcovPrefix, true, ".gcda")
		if !ok {
			continue
		}
		if done[gcda] {
			continue
		}

		if err := gcov.Transform(store, gcno, gcda, gcovStrip); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", gcno, err)
		}
		done[gcda] = true
	}
}
