// Package gcov transforms a compiler-emitted .gcno notes file into a
// .gcda counts file, filling in the counters this tool accumulated
// during trace decoding in place of an actual instrumented binary run.
package gcov

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/edgarigl/qemu-etrace/assert"
	"github.com/edgarigl/qemu-etrace/pathutil"
	"github.com/edgarigl/qemu-etrace/symbols"
)

const (
	gcovDataMagic = 0x67636461 // "gcda"

	tagFunction      = 0x01000000
	tagBlocks        = 0x01410000
	tagArcs          = 0x01430000
	tagLines         = 0x01450000
	tagCounterBase   = 0x01a10000
	tagObjectSummary = 0xa1000000
	tagProgramSummary = 0xa3000000

	arcOnTree = 1 << 0

	// versionCfgCsum is the first GCNO version whose FUNCTION record
	// carries a cfg_csum word in addition to ident/csum.
	versionCfgCsum = 0x3430372a
	// versionLongFunction is the first GCNO version whose re-emitted
	// FUNCTION record in the .gcda is 3 words long instead of 2.
	versionLongFunction = 0x34303665
)

type function struct {
	ident, csum, cfgCsum uint32
	name, source         string
	lineno               uint32
}

type arc struct {
	destBlock, flags uint32
}

type arcRecord struct {
	blockNo uint32
	arcs    []arc
}

type lineEntry struct {
	lineno   uint32
	filename string
}

type lineRecord struct {
	blockNo uint32
	lines   []lineEntry
}

// funcState accumulates every record belonging to the function
// currently being read, mirroring gcov_record_ir's lifetime: reset
// whenever a new FUNCTION tag arrives.
type funcState struct {
	fn             function
	rawFuncPayload []byte
	nrBlocks       int
	arcs           []arcRecord
	lines          []lineRecord
}

type transformCtx struct {
	store     *symbols.Store
	gcovStrip string
	version   uint32
	out       io.Writer
	rec       funcState
}

// Transform reads the GCNO notes file at gcnoPath and writes gcdaPath,
// resolving each function's counters against store -- the source, in
// this tool, of what an actual instrumented run would have produced.
//
// Several quirks of the original gcov_test/gcov_process_func are
// preserved rather than "fixed", since only one counter behavior here
// is a documented exception to that rule (see processFunc): the FUNCTION
// record written to the .gcda is a byte-for-byte truncation of the
// FUNCTION record read from the .gcno, not a record re-serialized from
// parsed fields -- only the first 2 or 3 words (ident, csum, and for
// versions from versionLongFunction on, the word after them, which is
// cfg_csum when the version carries one) are kept; name/source/lineno
// are silently dropped from the output, never re-added.
func Transform(store *symbols.Store, gcnoPath, gcdaPath, gcovStrip string) error {
	in, err := os.Open(gcnoPath)
	if err != nil {
		return fmt.Errorf("gcov: %w", err)
	}
	defer in.Close()

	data, err := mmap.Map(in, mmap.RDONLY, 0)
	if err != nil {
		return fmt.Errorf("gcov: mapping %s: %w", gcnoPath, err)
	}
	defer data.Unmap()

	if len(data) < 12 {
		return fmt.Errorf("gcov: %s: truncated file header", gcnoPath)
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	stamp := binary.LittleEndian.Uint32(data[8:12])

	out, err := os.Create(gcdaPath)
	if err != nil {
		return fmt.Errorf("gcov: %w", err)
	}
	defer out.Close()

	w := bufio.NewWriter(out)

	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:4], gcovDataMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], version)
	binary.LittleEndian.PutUint32(hdr[8:12], stamp)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}

	ctx := &transformCtx{store: store, gcovStrip: gcovStrip, version: version, out: w}

	pos := 12
	for {
		tag, length, payload, next, ok := readRecord([]byte(data), pos)
		if !ok {
			break
		}
		pos = next

		if tag == tagFunction {
			if ctx.rec.nrBlocks > 0 {
				if err := processFunc(ctx); err != nil {
					return err
				}
			}
			ctx.rec = funcState{}
		}

		if err := parseRecord(ctx, tag, length, payload); err != nil {
			return err
		}

		switch tag {
		case tagFunction:
			if err := reemitFunction(w, ctx); err != nil {
				return err
			}
		case tagLines:
			if len(ctx.rec.arcs) == len(ctx.rec.lines) {
				if err := processFunc(ctx); err != nil {
					return err
				}
			}
		}
	}

	if ctx.rec.nrBlocks > 0 {
		if err := processFunc(ctx); err != nil {
			return err
		}
	}

	summary := fixedSummary()
	if err := emitSummary(w, tagObjectSummary, summary); err != nil {
		return err
	}
	if err := emitSummary(w, tagProgramSummary, summary); err != nil {
		return err
	}
	if err := writeRecordHeader(w, 0, 0); err != nil {
		return err
	}

	return w.Flush()
}

// reemitFunction writes the output FUNCTION record as a raw truncation
// of whatever bytes were just read for it, per Transform's doc comment.
func reemitFunction(w io.Writer, ctx *transformCtx) error {
	outLen := uint32(2)
	if ctx.version >= versionLongFunction {
		outLen = 3
	}
	if err := writeRecordHeader(w, tagFunction, outLen); err != nil {
		return err
	}

	n := int(outLen) * 4
	if n > len(ctx.rec.rawFuncPayload) {
		n = len(ctx.rec.rawFuncPayload)
	}
	_, err := w.Write(ctx.rec.rawFuncPayload[:n])
	return err
}

func parseRecord(ctx *transformCtx, tag, length uint32, payload []byte) error {
	switch tag {
	case tagFunction:
		f, err := parseFunction(payload, ctx.version)
		if err != nil {
			return err
		}
		ctx.rec.fn = f
		ctx.rec.rawFuncPayload = payload
	case tagBlocks:
		ctx.rec.nrBlocks = int(length)
	case tagArcs:
		a, err := parseArcs(payload, length)
		if err != nil {
			return err
		}
		ctx.rec.arcs = append(ctx.rec.arcs, a)
	case tagLines:
		l, err := parseLines(payload, length)
		if err != nil {
			return err
		}
		ctx.rec.lines = append(ctx.rec.lines, l)
	case tagCounterBase, tagObjectSummary, tagProgramSummary, 0:
		// Present in the original only for debug logging; a GCNO notes
		// file carries none of these in practice, and the summaries
		// this tool emits are always the fixed values below regardless.
	default:
		assert.That(false, "gcov: unrecognized record tag %#x", tag)
	}
	return nil
}

// processFunc resolves the function currently accumulated in ctx.rec
// against store and writes its counter record to the .gcda output.
//
// counts[0] is always overwritten with the entry count of the
// function's word 0, whenever word 0 has a source location, even when
// that location already matched a later counter slot via matchLine -- the
// original's documented behavior for a function's prologue block,
// preserved here rather than treated as a bug.
func processFunc(ctx *transformCtx) error {
	rec := &ctx.rec

	numCounts := 0
	for _, a := range rec.arcs {
		for _, arc := range a.arcs {
			if arc.flags&arcOnTree == 0 {
				numCounts++
			}
		}
	}
	if numCounts == 0 {
		return nil
	}

	sym := ctx.store.LookupByName(rec.fn.name)
	counts := make([]uint64, numCounts)

	if sym != nil && sym.Linemap != nil && sym.Cov != nil {
		nrWords := int(sym.Size / 4)
		for off := 0; off < nrWords; off++ {
			loc := sym.Linemap[off]
			if loc == nil {
				continue
			}

			for loc != nil {
				var v uint64
				if sym.CovEnt != nil {
					v = sym.CovEnt[off]
				}

				blockNr := matchLine(ctx, loc, off == 0)
				if blockNr >= 0 && blockNr < len(counts) && counts[blockNr] == 0 {
					counts[blockNr] = v
				}

				if off == 0 {
					counts[0] = v
				}

				loc = loc.Next
			}
		}
	}

	return emitCounts(ctx.out, counts)
}

// matchLine finds the block number of the ARCS/LINES record in the
// current function matching loc, or -1 if none does. isPrologue allows
// a function's first word to match one line past its recorded
// declaration line, for compilers that attribute the prologue to the
// line after the opening brace.
func matchLine(ctx *transformCtx, loc *symbols.SrcLoc, isPrologue bool) int {
	tmp, ok := pathutil.MapSrcFilename(loc.Filename, ctx.gcovStrip, "", false, "")
	if !ok {
		tmp = ""
	}

	for _, lr := range ctx.rec.lines {
		prologue := lr.blockNo == 1 && isPrologue

		for _, e := range lr.lines {
			nameMatch := e.filename == loc.Filename || e.filename == tmp
			lineMatch := e.lineno == loc.Linenr
			if prologue && e.lineno+1 == loc.Linenr {
				lineMatch = true
			}
			if nameMatch && lineMatch {
				return int(lr.blockNo)
			}
		}
	}
	return -1
}

func readRecord(data []byte, pos int) (tag, length uint32, payload []byte, next int, ok bool) {
	if pos+8 > len(data) {
		return 0, 0, nil, pos, false
	}
	tag = binary.LittleEndian.Uint32(data[pos : pos+4])
	length = binary.LittleEndian.Uint32(data[pos+4 : pos+8])
	pos += 8

	end := pos + int(length)*4
	if end > len(data) {
		return 0, 0, nil, pos, false
	}
	return tag, length, data[pos:end], end, true
}

func parseFunction(data []byte, version uint32) (function, error) {
	pos := 0
	fits := func(words int) bool { return (pos+words)*4 <= len(data) }

	if !fits(2) {
		return function{}, fmt.Errorf("gcov: truncated FUNCTION record")
	}
	var f function
	f.ident = binary.LittleEndian.Uint32(data[pos*4:])
	pos++
	f.csum = binary.LittleEndian.Uint32(data[pos*4:])
	pos++

	if version >= versionCfgCsum {
		if !fits(1) {
			return function{}, fmt.Errorf("gcov: truncated FUNCTION record")
		}
		f.cfgCsum = binary.LittleEndian.Uint32(data[pos*4:])
		pos++
	}

	name, n, err := readCString(data, pos)
	if err != nil {
		return function{}, err
	}
	f.name = name
	pos += n

	source, n, err := readCString(data, pos)
	if err != nil {
		return function{}, err
	}
	f.source = source
	pos += n

	if !fits(1) {
		return function{}, fmt.Errorf("gcov: truncated FUNCTION record")
	}
	f.lineno = binary.LittleEndian.Uint32(data[pos*4:])

	return f, nil
}

// readCString reads a length-prefixed, word-padded, NUL-terminated
// string starting at word offset pos, returning it and the number of
// words consumed (including the length word itself).
func readCString(data []byte, pos int) (string, int, error) {
	if (pos+1)*4 > len(data) {
		return "", 0, fmt.Errorf("gcov: truncated string length")
	}
	length := int(binary.LittleEndian.Uint32(data[pos*4:]))
	pos++

	end := pos + length
	if end*4 > len(data) {
		return "", 0, fmt.Errorf("gcov: truncated string data")
	}

	raw := data[pos*4 : end*4]
	if idx := bytes.IndexByte(raw, 0); idx >= 0 {
		raw = raw[:idx]
	}
	return string(raw), length + 1, nil
}

func parseArcs(data []byte, length uint32) (arcRecord, error) {
	if 4 > len(data) {
		return arcRecord{}, fmt.Errorf("gcov: truncated ARCS record")
	}
	var r arcRecord
	r.blockNo = binary.LittleEndian.Uint32(data[0:4])

	pos := 1
	for uint32(pos) < length {
		if (pos+2)*4 > len(data) {
			return arcRecord{}, fmt.Errorf("gcov: truncated ARCS record")
		}
		r.arcs = append(r.arcs, arc{
			destBlock: binary.LittleEndian.Uint32(data[pos*4:]),
			flags:     binary.LittleEndian.Uint32(data[(pos+1)*4:]),
		})
		pos += 2
	}
	return r, nil
}

func parseLines(data []byte, length uint32) (lineRecord, error) {
	if 4 > len(data) {
		return lineRecord{}, fmt.Errorf("gcov: truncated LINES record")
	}
	var r lineRecord
	r.blockNo = binary.LittleEndian.Uint32(data[0:4])

	pos := 1
	var name string
	for uint32(pos) < length {
		if (pos+1)*4 > len(data) {
			return lineRecord{}, fmt.Errorf("gcov: truncated LINES record")
		}
		lineno := binary.LittleEndian.Uint32(data[pos*4:])
		pos++

		if lineno == 0 {
			if (pos+1)*4 > len(data) {
				return lineRecord{}, fmt.Errorf("gcov: truncated LINES record")
			}
			n := int(binary.LittleEndian.Uint32(data[pos*4:]))
			pos++
			if n == 0 {
				break
			}

			end := pos + n
			if end*4 > len(data) {
				return lineRecord{}, fmt.Errorf("gcov: truncated LINES record")
			}
			raw := data[pos*4 : end*4]
			if idx := bytes.IndexByte(raw, 0); idx >= 0 {
				raw = raw[:idx]
			}
			name = string(raw)
			pos = end
			continue
		}

		r.lines = append(r.lines, lineEntry{lineno: lineno, filename: name})
	}
	return r, nil
}

func writeRecordHeader(w io.Writer, tag, length uint32) error {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], tag)
	binary.LittleEndian.PutUint32(hdr[4:8], length)
	_, err := w.Write(hdr[:])
	return err
}

func emitCounts(w io.Writer, counts []uint64) error {
	if err := writeRecordHeader(w, tagCounterBase, uint32(len(counts)*2)); err != nil {
		return err
	}
	var buf [8]byte
	for _, c := range counts {
		binary.LittleEndian.PutUint64(buf[:], c)
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}

// fixedSummary is the gcov_count_summary this tool always emits: the
// original's gcov_test hardcodes {num:1, runs:1, sum:1, max:1,
// sum_max:1} rather than tracking real run statistics, since this tool
// never performs true counter merging across multiple runs.
func fixedSummary() [36]byte {
	var b [36]byte
	binary.LittleEndian.PutUint32(b[4:8], 1)
	binary.LittleEndian.PutUint32(b[8:12], 1)
	binary.LittleEndian.PutUint64(b[12:20], 1)
	binary.LittleEndian.PutUint64(b[20:28], 1)
	binary.LittleEndian.PutUint64(b[28:36], 1)
	return b
}

func emitSummary(w io.Writer, tag uint32, summary [36]byte) error {
	if err := writeRecordHeader(w, tag, 9); err != nil {
		return err
	}
	_, err := w.Write(summary[:])
	return err
}
