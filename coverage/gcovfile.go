package coverage

import "github.com/edgarigl/qemu-etrace/symbols"

// gcovFile accumulates per-line hit counts for one source file, built
// across every symbol that attributes code to it. QCOV and LCOV both
// render from this structure; GCOV instead drives loadGcnos
// straight off the symbol table, independent of it.
type gcovFile struct {
	filename   string
	syms       []*symbols.Sym
	lines      []uint64
	instrLines []bool
}

// nrLines returns the highest line number this file currently sizes
// for (lines/instrLines are indexed by line-1).
func (f *gcovFile) nrLines() int { return len(f.lines) }

func (f *gcovFile) addSym(s *symbols.Sym) {
	for _, e := range f.syms {
		if e == s {
			return
		}
	}
	f.syms = append(f.syms, s)
}

// gcovFileSet is a registry of gcovFile by source filename, replacing
// the original's gcov_files linked list.
type gcovFileSet struct {
	files map[string]*gcovFile
	order []string
}

func newGcovFileSet() *gcovFileSet {
	return &gcovFileSet{files: make(map[string]*gcovFile)}
}

// findOrCreate returns filename's accumulator, growing it if maxLine
// exceeds what it currently holds -- the original's gcov_find_file_no_fail.
func (s *gcovFileSet) findOrCreate(filename string, maxLine uint32) *gcovFile {
	f, ok := s.files[filename]
	if !ok {
		f = &gcovFile{
			filename:   filename,
			lines:      make([]uint64, maxLine),
			instrLines: make([]bool, maxLine),
		}
		s.files[filename] = f
		s.order = append(s.order, filename)
		return f
	}

	if int(maxLine) > len(f.lines) {
		lines := make([]uint64, maxLine)
		copy(lines, f.lines)
		f.lines = lines

		instr := make([]bool, maxLine)
		copy(instr, f.instrLines)
		f.instrLines = instr
	}
	return f
}

// all returns every registered file, in first-seen order (the original's
// list is built by prepending, so this does not replicate its iteration
// order -- nothing downstream depends on file iteration order).
func (s *gcovFileSet) all() []*gcovFile {
	out := make([]*gcovFile, len(s.order))
	for i, name := range s.order {
		out[i] = s.files[name]
	}
	return out
}
