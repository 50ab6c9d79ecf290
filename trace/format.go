// Package trace decodes the three trace wire formats this tool accepts
// -- the framed binary protocol, its ASCII-hex derivatives, and the
// QEMU "simple" mapping-table format -- directly against a symbol
// store, updating per-word coverage counters as packets stream by and,
// where a decoded-text sink is attached, writing the same one-line
// human-readable rendering the original tool produced per packet type.
package trace

import "fmt"

// Format identifies one of the trace representations this tool can
// read or, for Human, write.
type Format int

const (
	FormatNone Format = iota
	FormatETrace
	FormatHuman
	FormatVCD
	FormatASCIIHex
	FormatASCIIHexLE16
	FormatASCIIHexLE32
	FormatASCIIHexLE64
	FormatASCIIHexBE16
	FormatASCIIHexBE32
	FormatASCIIHexBE64
	// FormatSimple decodes the QEMU "simple" mapping-table trace format.
	// It has no CLI token in the upstream tool's own format table (that
	// format is wired through a separate, uncalled entry point in the
	// original sources) -- it is surfaced here as an ordinary
	// --trace-in-format value instead.
	FormatSimple
)

var formatNames = map[string]Format{
	"none":           FormatNone,
	"etrace":         FormatETrace,
	"human":          FormatHuman,
	"vcd":            FormatVCD,
	"ascii-hex":      FormatASCIIHex,
	"ascii-hex-le16": FormatASCIIHexLE16,
	"ascii-hex-le32": FormatASCIIHexLE32,
	"ascii-hex-le64": FormatASCIIHexLE64,
	"ascii-hex-be16": FormatASCIIHexBE16,
	"ascii-hex-be32": FormatASCIIHexBE32,
	"ascii-hex-be64": FormatASCIIHexBE64,
	"simple":         FormatSimple,
}

// ParseFormat maps a CLI token to its Format, as qemu-etrace.c's
// format_map tables do.
func ParseFormat(s string) (Format, error) {
	f, ok := formatNames[s]
	if !ok {
		return FormatNone, fmt.Errorf("trace: unknown format %q", s)
	}
	return f, nil
}

func (f Format) String() string {
	for s, v := range formatNames {
		if v == f {
			return s
		}
	}
	return "unknown"
}
