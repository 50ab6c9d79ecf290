package coverage

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/edgarigl/qemu-etrace/pathutil"
)

// emitQCOVFile annotates f's source file with per-line hit counts,
// writing "<count>:<lineno>:<source line>" (unhit-but-instrumented lines
// get "   #####", lines never reached by any block get "       -").
//
// The original walks source lines against f->lines by a line index that
// runs one past the last populated slot before its trailing assertion
// fires -- an off-by-one this port corrects by bounding the loop to
// f.nrLines() directly instead of discovering the overrun after the fact.
func emitQCOVFile(f *gcovFile, gcovStrip, gcovPrefix string) error {
	if f.filename == "??" {
		return nil
	}

	in, err := os.Open(f.filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to open %s\n", f.filename)
		return nil
	}
	defer in.Close()

	outname, ok := pathutil.MapSrcFilename(f.filename, gcovStrip, gcovPrefix, false, ".qcov")
	if !ok {
		return nil
	}

	out, err := os.Create(outname)
	if err != nil {
		return fmt.Errorf("coverage: %w", err)
	}
	defer out.Close()

	fmt.Fprintf(os.Stderr, "creating %s\n", outname)

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	w := bufio.NewWriter(out)
	l := 0
	for sc.Scan() && l < f.nrLines() {
		if f.lines[l] != 0 {
			fmt.Fprintf(w, "%8d", f.lines[l])
		} else if f.instrLines[l] {
			fmt.Fprint(w, "   #####")
		} else {
			fmt.Fprint(w, "       -")
		}
		fmt.Fprintf(w, ":%5d:%s\n", l+1, sc.Text())
		l++
	}

	if err := sc.Err(); err != nil && err != io.EOF {
		return err
	}
	return w.Flush()
}
