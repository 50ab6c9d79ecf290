package trace

import (
	"errors"
	"fmt"
	"io"

	"github.com/edgarigl/qemu-etrace/symbols"
)

// ErrTBChaining is returned when coverage is requested against a trace
// whose INFO packet advertises TB chaining: chained translation blocks
// report execution ranges that straddle re-entry points, and the
// address ranges reported can no longer be attributed to the symbols
// that actually ran. The caller must re-record with TB chaining
// disabled (QEMU's -no-tb-chain) to get meaningful coverage.
var ErrTBChaining = errors.New("trace: cannot compute coverage on a trace recorded with TB chaining enabled")

// ErrUnsupportedVersion is returned when an INFO packet (or a "simple"
// format header) advertises a version this decoder does not implement.
type ErrUnsupportedVersion struct {
	Major, Minor uint16

	// Simple marks a "simple" format header version mismatch, which
	// carries a single version number, not a major.minor pair.
	Simple bool
}

func (e ErrUnsupportedVersion) Error() string {
	if e.Simple {
		return fmt.Sprintf("trace: unsupported simple trace file version %d", e.Major)
	}
	return fmt.Sprintf("trace: unsupported trace version %d.%d", e.Major, e.Minor)
}

// Disassembler renders the instructions in code, which begins at addr,
// to w. Implementations are free to use an in-process disassembler or
// shell out to an external tool; decoders treat this as an opaque
// sink and only call it when a decoded-text output is attached and the
// matching machine name is configured.
type Disassembler interface {
	Disassemble(w io.Writer, objdump, machine string, bigEndian bool, addr uint64, code []byte) error
}

// Sink bundles everything a decoder needs beyond the raw packet
// stream: the symbol store to resolve and update, an optional
// decoded-text writer, and the disassembler hookup for TB packets.
type Sink struct {
	Store *symbols.Store

	// TextOut receives the decoded human-readable output for each
	// packet, in the original tool's exact formats. Nil means no
	// decoded output is produced (coverage-only runs commonly leave
	// this unset).
	TextOut io.Writer

	// CoverageEnabled gates both the per-word accumulation and the
	// TB-chaining guard; decoding otherwise proceeds identically either
	// way.
	CoverageEnabled bool

	Disas Disassembler

	GuestObjdump, GuestMachine string
	HostObjdump, HostMachine   string
}
