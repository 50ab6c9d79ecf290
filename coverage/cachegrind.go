package coverage

import (
	"fmt"
	"io"

	"github.com/edgarigl/qemu-etrace/symbols"
)

// dumpCachegrind writes store's coverage as a minimal Cachegrind
// profile: one "fn=" + total-time (ns) line per symbol, attributing all
// of it to line 0 since no per-line timing is tracked for this format.
func dumpCachegrind(store *symbols.Store, w io.Writer) {
	fmt.Fprintf(w, "cmd: qemu\n")
	fmt.Fprintf(w, "events: time-ns\n")
	fmt.Fprintf(w, "fl=???\n")

	for _, sym := range store.All() {
		dumpCachegrindSym(sym, w)
	}
	dumpCachegrindSym(store.Unknown(), w)
}

func dumpCachegrindSym(sym *symbols.Sym, w io.Writer) {
	name := sym.Name
	if name == "" {
		name = "unknown"
	}
	fmt.Fprintf(w, "fn=%s\n%d %d\n", name, 0, sym.TotalTime)
}
