package coverage

import (
	"fmt"
	"io"

	"github.com/edgarigl/qemu-etrace/exclude"
)

// emitLCOVInfo writes f's lcov "TN:"/"SF:"/"FN:"/"FNDA:"/"DA:" tracefile
// record to w, skipping lines ex marks as excluded.
func emitLCOVInfo(f *gcovFile, w io.Writer, ex *exclude.List) {
	if f.filename == "??" {
		return
	}

	fmt.Fprintf(w, "TN:\n")
	fmt.Fprintf(w, "SF:%s\n", f.filename)

	fileHasExcludes := ex.Match(f.filename, exclude.AnyLine)

	for _, sym := range f.syms {
		loc := findDeclLine(sym, f.filename)
		if loc == nil {
			continue
		}

		fmt.Fprintf(w, "FN:%d,%s\n", loc.Linenr, sym.Name)
		if sym.CovEnt != nil {
			fmt.Fprintf(w, "FNDA:%d,%s\n", sym.CovEnt[0], sym.Name)
		}
	}

	var instrLines, execLines int
	for i := 0; i < f.nrLines(); i++ {
		if fileHasExcludes && ex.Match(f.filename, i+1) {
			continue
		}

		if f.instrLines[i] {
			instrLines++
			execLines++
			fmt.Fprintf(w, "DA:%d,%d\n", i+1, f.lines[i])
		}
	}

	fmt.Fprintf(w, "LF:%d\n", instrLines)
	fmt.Fprintf(w, "LH:%d\n", execLines)
	fmt.Fprintf(w, "end_of_record\n")
}
