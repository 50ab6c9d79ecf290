package coverage

import "github.com/edgarigl/qemu-etrace/symbols"

// processSym folds sym's per-word entry counts into the per-file line
// accumulators in set, attributing each word to every source location
// in its inlining chain.
//
// The line-count update is add-if-greater, not a running sum or a max:
// gcov_process_sym only accumulates v into a line when v itself exceeds
// what the line already holds. A word whose count matches or undershoots
// a richer sibling word mapped to the same line contributes nothing.
func processSym(set *gcovFileSet, sym *symbols.Sym) {
	if sym.SrcFilename == "" || sym.Linemap == nil {
		return
	}

	fSrc := set.findOrCreate(sym.SrcFilename, sym.MaxLine+1)

	i := 0
	end := sym.End()
	for addr := sym.Addr; addr < end; addr += 4 {
		var v uint64
		if sym.CovEnt != nil {
			v = sym.CovEnt[i]
		}

		loc := sym.Linemap[i]
		if loc == nil {
			// A word with no attribution also skips the index advance
			// below, so the next word is processed against a stale i.
			continue
		}

		for loc != nil {
			f := fSrc
			if loc.Filename != sym.SrcFilename {
				f = set.findOrCreate(loc.Filename, sym.MaxLine+1)
			}

			if loc.Linenr > 0 {
				idx := loc.Linenr - 1
				if v > f.lines[idx] {
					f.lines[idx] += v
				}
				f.instrLines[idx] = true
			}
			f.addSym(sym)

			loc = loc.Next
		}

		i++
	}
}

// findDeclLine returns the earliest non-inlined source location in
// sym's word-0 location chain attributed to filename, used as the LCOV
// function declaration line. Returns nil if sym has no such location.
func findDeclLine(sym *symbols.Sym, filename string) *symbols.SrcLoc {
	if sym.Linemap == nil || len(sym.Linemap) == 0 {
		return nil
	}

	loc := sym.Linemap[0]
	if loc == nil {
		return nil
	}

	var ret *symbols.SrcLoc
	for loc != nil {
		if loc.Filename == filename && loc.Flags&symbols.LocInlined == 0 &&
			(ret == nil || ret.Linenr > loc.Linenr) {
			ret = loc
		}
		loc = loc.Next
	}
	return ret
}
