package gcov_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/edgarigl/qemu-etrace/coverage/gcov"
	"github.com/edgarigl/qemu-etrace/internal/test"
	"github.com/edgarigl/qemu-etrace/symbols"
)

func u32le(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func wordString(s string) []byte {
	padded := s + "\x00"
	for len(padded)%4 != 0 {
		padded += "\x00"
	}
	return []byte(padded)
}

// buildGCNO assembles a minimal single-function GCNO stream: a FUNCTION
// record naming "foo" at a.c:10, 2 blocks, one ARCS record with two
// off-tree arcs (so 2 counters are expected), and one LINES record
// attributing block 99 -- deliberately out of the 2-counter range --
// to a.c:10.
func buildGCNO(version uint32) []byte {
	var b bytes.Buffer
	b.Write(u32le(0x67636e6f)) // GCOV_NOTE_MAGIC
	b.Write(u32le(version))
	b.Write(u32le(0)) // stamp

	name := wordString("foo")
	src := wordString("a.c")

	var fn bytes.Buffer
	fn.Write(u32le(1)) // ident
	fn.Write(u32le(2)) // csum
	fn.Write(u32le(uint32(len(name) / 4)))
	fn.Write(name)
	fn.Write(u32le(uint32(len(src) / 4)))
	fn.Write(src)
	fn.Write(u32le(10)) // lineno
	writeRecord(&b, 0x01000000, fn.Bytes())

	var blocks bytes.Buffer
	blocks.Write(u32le(0))
	blocks.Write(u32le(0))
	writeRecord(&b, 0x01410000, blocks.Bytes())

	var arcs bytes.Buffer
	arcs.Write(u32le(0)) // block_no
	arcs.Write(u32le(1)) // dest_block
	arcs.Write(u32le(0)) // flags: not on tree
	arcs.Write(u32le(2)) // dest_block
	arcs.Write(u32le(0)) // flags: not on tree
	writeRecord(&b, 0x01430000, arcs.Bytes())

	var lines bytes.Buffer
	lines.Write(u32le(99)) // block_no, out of the 2-counter range
	lines.Write(u32le(0))  // filename-change marker
	lines.Write(u32le(uint32(len(src) / 4)))
	lines.Write(src)
	lines.Write(u32le(10)) // lineno
	writeRecord(&b, 0x01450000, lines.Bytes())

	return b.Bytes()
}

func writeRecord(b *bytes.Buffer, tag uint32, payload []byte) {
	b.Write(u32le(tag))
	b.Write(u32le(uint32(len(payload) / 4)))
	b.Write(payload)
}

func fooSym() *symbols.Sym {
	sym := &symbols.Sym{Addr: 0x1000, Size: 16, Name: "foo", Namelen: 3}
	sym.Linemap = make([]*symbols.SrcLoc, 5)
	sym.Linemap[0] = &symbols.SrcLoc{Filename: "a.c", Linenr: 10}
	sym.Cov = make([]uint64, 5)
	sym.CovEnt = make([]uint64, 5)
	sym.CovEnt[0] = 7
	return sym
}

func storeWithFoo(t *testing.T) *symbols.Store {
	t.Helper()
	st, err := symbols.ParseNM(strings.NewReader(
		"0000000000001000 0000000000000010 T foo\n",
	))
	test.Equate(t, err, nil)
	sym := st.LookupByName("foo")
	sym.Linemap = fooSym().Linemap
	sym.Cov = fooSym().Cov
	sym.CovEnt = fooSym().CovEnt
	return st
}

// S7: the entry count recorded for a function's first instrumented word
// always lands in counts[0], even when block matching would otherwise
// place it (or nothing at all) elsewhere.
func TestTransformForcesFirstWordIntoCountZero(t *testing.T) {
	dir := t.TempDir()
	gcno := filepath.Join(dir, "a.gcno")
	gcda := filepath.Join(dir, "a.gcda")
	test.Equate(t, os.WriteFile(gcno, buildGCNO(0x34303500), 0o644), nil)

	st := storeWithFoo(t)
	err := gcov.Transform(st, gcno, gcda, "")
	test.Equate(t, err, nil)

	out, err := os.ReadFile(gcda)
	test.Equate(t, err, nil)

	test.ExpectEquality(t, binary.LittleEndian.Uint32(out[0:4]), uint32(0x67636461))

	counterRecords := findCounterRecords(out)
	if len(counterRecords) == 0 {
		t.Fatalf("expected at least one COUNTER_BASE record, found none in %x", out)
	}
	for _, counts := range counterRecords {
		test.ExpectEquality(t, counts[0], uint64(7))
	}
}

// The dual flush trigger (a LINES-tag early flush with no state reset,
// plus the end-of-stream flush) runs gcov_process_func twice against
// the same accumulated state for a stream with a single function and
// no following FUNCTION record to reset it.
func TestTransformDualFlushEmitsTwoIdenticalCounterRecords(t *testing.T) {
	dir := t.TempDir()
	gcno := filepath.Join(dir, "a.gcno")
	gcda := filepath.Join(dir, "a.gcda")
	test.Equate(t, os.WriteFile(gcno, buildGCNO(0x34303500), 0o644), nil)

	st := storeWithFoo(t)
	test.Equate(t, gcov.Transform(st, gcno, gcda, ""), nil)

	out, err := os.ReadFile(gcda)
	test.Equate(t, err, nil)

	counterRecords := findCounterRecords(out)
	test.ExpectEquality(t, len(counterRecords), 2)
	test.ExpectEquality(t, counterRecords[0], counterRecords[1])
}

// findCounterRecords scans a .gcda byte stream for COUNTER_BASE records
// and returns each one's decoded counters.
func findCounterRecords(data []byte) [][]uint64 {
	var out [][]uint64
	pos := 12
	for pos+8 <= len(data) {
		tag := binary.LittleEndian.Uint32(data[pos : pos+4])
		length := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		pos += 8
		end := pos + int(length)*4
		if end > len(data) {
			break
		}
		if tag == 0x01a10000 {
			nr := length / 2
			counts := make([]uint64, nr)
			for i := uint32(0); i < nr; i++ {
				counts[i] = binary.LittleEndian.Uint64(data[pos+int(i)*8:])
			}
			out = append(out, counts)
		}
		pos = end
	}
	return out
}
