package symbols

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/edgarigl/qemu-etrace/pathutil"
)

// inlinedPrefix is the exact prefix addr2line -i -p writes before a
// frame that was inlined into the one preceding it. The frame carries
// no address of its own; it belongs to the most recently seen one.
const inlinedPrefix = " (inlined by) "

// BuildLineMap consumes the output of `addr2line -a -i -p -e <elf>`,
// fed one word address per stored symbol (4-byte stride, covering
// every symbol's full range), and attributes each address to a source
// file and line. It must run after the store's symbol table is
// populated (via ParseNM) since every record is resolved back to its
// owning Sym by address as it is read.
//
// Each non-inlined line has the form "<addr>: <file>:<line>"; each
// inlined line that directly follows it has the form
// " (inlined by) <file>:<line>" and is attributed to the same address.
func BuildLineMap(store *Store, r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var addr uint64
	haveAddr := false

	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}

		var rest string
		inlined := false

		if strings.HasPrefix(line, inlinedPrefix) {
			if !haveAddr {
				return fmt.Errorf("symbols: line map has an inlined record with no preceding address")
			}
			rest = line[len(inlinedPrefix):]
			inlined = true
		} else {
			idx := strings.Index(line, ": ")
			if idx < 0 {
				continue
			}
			a, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(line[:idx]), "0x"), 16, 64)
			if err != nil {
				continue
			}
			addr = a
			haveAddr = true
			rest = line[idx+2:]
		}

		colon := strings.LastIndexByte(rest, ':')
		if colon < 0 {
			continue
		}
		filename := rest[:colon]
		linenr64, err := strconv.ParseUint(strings.TrimSpace(rest[colon+1:]), 10, 32)
		if err != nil {
			continue
		}
		linenr := uint32(linenr64)

		sym := store.LookupByAddr(addr)
		if sym == nil {
			continue
		}

		if sym.SrcFilename == "" {
			sym.SrcFilename = pathutil.Sanitize(filename)
		}
		if sym.Linemap == nil {
			allocLinemap(sym)
		}
		if linenr >= sym.MaxLine {
			sym.MaxLine = linenr
		}

		offset := (addr - sym.Addr) / 4
		loc := attach(sym, offset)

		if filename == sym.SrcFilename {
			loc.Filename = sym.SrcFilename
		} else {
			loc.Filename = pathutil.Sanitize(filename)
		}
		loc.Linenr = linenr
		if inlined {
			loc.Flags |= LocInlined
		}
	}

	return sc.Err()
}

// attach returns the SrcLoc to populate for word offset: the existing
// slot if empty, or a freshly appended link at the end of its chain
// when a word already carries an attribution (an inlining call site
// stacking further frames onto the same word).
func attach(sym *Sym, offset uint64) *SrcLoc {
	existing := sym.Linemap[offset]
	if existing == nil {
		loc := &SrcLoc{}
		sym.Linemap[offset] = loc
		return loc
	}

	loc := existing
	for loc.Next != nil {
		loc = loc.Next
	}
	loc.Next = &SrcLoc{}
	return loc.Next
}
