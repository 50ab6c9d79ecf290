// Command qemu-etrace decodes execution traces produced by a QEMU-style
// emulator against an ELF image, either as decoded text or as code
// coverage in one of several formats.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/edgarigl/qemu-etrace/coverage"
	"github.com/edgarigl/qemu-etrace/curated"
	"github.com/edgarigl/qemu-etrace/external"
	"github.com/edgarigl/qemu-etrace/logger"
	"github.com/edgarigl/qemu-etrace/symbols"
	"github.com/edgarigl/qemu-etrace/trace"
)

// log is the process-wide ring buffer mirrored to zerolog, the same
// shape the teacher's debugger keeps at package scope for its own
// logger.Logger instance.
var log = logger.NewLogger(64)

// nilWriter discards everything written to it. Used the same way the
// teacher's top-level flag set uses one: to suppress a library's own
// error/usage printing so the caller can report it on its own terms.
type nilWriter struct{}

func (*nilWriter) Write(p []byte) (int, error) { return len(p), nil }

type options struct {
	traceFilename string
	traceOutput   string
	traceInFmt    string
	traceOutFmt   string

	elf       string
	addr2line string
	nm        string
	objdump   string
	machine   string

	guestObjdump string
	guestMachine string

	coverageFormat string
	coverageOutput string
	gcovStrip      string
	gcovPrefix     string
	excludeFile    string

	server bool
}

func main() {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "qemu-etrace",
		Short:         "Decode QEMU execution traces into text or code coverage",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.SetOut(&nilWriter{})

	flags := cmd.Flags()
	flags.StringVar(&opts.traceFilename, "trace", "", "trace filename")
	flags.StringVar(&opts.traceInFmt, "trace-in-format", "etrace", "trace input format")
	flags.StringVar(&opts.traceOutFmt, "trace-out-format", "human", "trace output format")
	flags.StringVar(&opts.traceOutput, "trace-output", "-", "decoded trace output filename")
	flags.StringVar(&opts.elf, "elf", "", "ELF file of the traced application")
	flags.StringVar(&opts.addr2line, "addr2line", "/usr/bin/addr2line", "path to addr2line binary")
	flags.StringVar(&opts.nm, "nm", "/usr/bin/nm", "path to nm binary")
	flags.StringVar(&opts.objdump, "objdump", "/usr/bin/objdump", "path to objdump binary")
	flags.StringVar(&opts.machine, "machine", "", "host machine name, see objdump --help")
	flags.StringVar(&opts.guestObjdump, "guest-objdump", "objdump", "path to guest objdump")
	flags.StringVar(&opts.guestMachine, "guest-machine", "", "guest machine name, see objdump --help")
	flags.StringVar(&opts.coverageFormat, "coverage-format", "none", "coverage format: none,etrace,cachegrind,gcov,qcov,lcov")
	flags.StringVar(&opts.coverageOutput, "coverage-output", "", "coverage output filename")
	flags.StringVar(&opts.gcovStrip, "gcov-strip", "", "strip the given prefix from gcov source paths")
	flags.StringVar(&opts.gcovPrefix, "gcov-prefix", "", "prefix gcov source paths with the given string")
	flags.StringVar(&opts.excludeFile, "exclude", "", "exclude-list file for LCOV output")
	flags.BoolVar(&opts.server, "server", true, "keep re-reading from a socket trace source until interrupted")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	cmd.SetContext(ctx)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "qemu-etrace: %s\n", err)
		os.Exit(1)
	}
}

// run is the orchestrator: load symbols, open the trace input and
// output, decode until the source is exhausted (re-entering the loop
// on EOF for socket sources in server mode), then emit coverage.
func run(ctx context.Context, opts *options) error {
	if err := validate(opts); err != nil {
		return err
	}

	log.Logf(logger.Allow, "qemu-etrace", "trace=%s elf=%s coverage-format=%s server=%v",
		opts.traceFilename, opts.elf, opts.coverageFormat, opts.server)

	store := symbols.NewStore()
	if opts.elf != "" {
		var err error
		store, err = external.LoadSymbols(ctx, opts.nm, opts.addr2line, opts.elf)
		if err != nil {
			return curated.Errorf("qemu-etrace: loading symbols: %v", err)
		}
	}

	traceInFmt, err := trace.ParseFormat(opts.traceInFmt)
	if err != nil {
		return curated.Errorf("qemu-etrace: %v", err)
	}

	textOut, closeTextOut, err := openTraceOutput(opts.traceOutput)
	if err != nil {
		return curated.Errorf("qemu-etrace: opening trace output: %v", err)
	}
	defer closeTextOut()

	covFormat, err := coverage.ParseFormat(opts.coverageFormat)
	if err != nil {
		return curated.Errorf("qemu-etrace: %v", err)
	}

	sink := &trace.Sink{
		Store:           store,
		TextOut:         textOut,
		CoverageEnabled: covFormat != coverage.None,
		Disas:           external.Disassembler{},
		GuestObjdump:    opts.guestObjdump,
		GuestMachine:    opts.guestMachine,
		HostObjdump:     opts.objdump,
		HostMachine:     opts.machine,
	}

	for {
		isSocket, err := decodeOnce(opts.traceFilename, traceInFmt, sink)
		if err != nil {
			return curated.Errorf("qemu-etrace: decoding %s: %v", opts.traceFilename, err)
		}

		if !isSocket || !opts.server {
			break
		}
		select {
		case <-ctx.Done():
		default:
			continue
		}
		break
	}

	printStats(store)

	if covFormat != coverage.None {
		if err := coverage.Emit(store, opts.coverageOutput, covFormat, opts.gcovStrip, opts.gcovPrefix, opts.excludeFile); err != nil {
			return curated.Errorf("qemu-etrace: emitting coverage: %v", err)
		}
	}

	return nil
}

// validate mirrors the original tool's validate_arguments: a trace
// source is mandatory, and coverage formats that write to the filename
// named by --coverage-output need one (GCOV and QCOV instead derive
// their output filenames per source file, so they're exempt).
func validate(opts *options) error {
	if opts.traceFilename == "" {
		return curated.Errorf("qemu-etrace: no trace file selected (--trace)")
	}

	format, err := coverage.ParseFormat(opts.coverageFormat)
	if err != nil {
		return curated.Errorf("qemu-etrace: %v", err)
	}
	if opts.coverageOutput == "" && format != coverage.None && format != coverage.Gcov && format != coverage.QCOV {
		return curated.Errorf("qemu-etrace: coverage format %q needs an output file (--coverage-output)", opts.coverageFormat)
	}
	return nil
}

// openTraceOutput opens the decoded-text sink named by outname. "none"
// discards output entirely (distinct from "-", which is stdout) --
// the original tool special-cases "none" the same way so a user can
// still name a real file "none" by writing "./none".
func openTraceOutput(outname string) (io.Writer, func(), error) {
	switch outname {
	case "none":
		return io.Discard, func() {}, nil
	case "-", "":
		return os.Stdout, func() {}, nil
	default:
		f, err := os.Create(outname)
		if err != nil {
			return nil, nil, err
		}
		return f, func() { f.Close() }, nil
	}
}

// decodeOnce opens filename once and decodes it with the decoder that
// matches format, reporting whether the opened source was a socket so
// the caller knows whether to loop (server mode re-reads a socket
// source after EOF; a plain file is read exactly once).
func decodeOnce(filename string, format trace.Format, sink *trace.Sink) (isSocket bool, err error) {
	f, err := os.Open(filename)
	if err != nil {
		return false, err
	}
	defer f.Close()

	if fi, err := f.Stat(); err == nil {
		isSocket = fi.Mode()&os.ModeSocket != 0
	}

	switch format {
	case trace.FormatETrace:
		err = trace.DecodeETrace(f, sink)
	case trace.FormatASCIIHex, trace.FormatASCIIHexLE16, trace.FormatASCIIHexLE32, trace.FormatASCIIHexLE64,
		trace.FormatASCIIHexBE16, trace.FormatASCIIHexBE32, trace.FormatASCIIHexBE64:
		err = trace.DecodeASCIIHex(f, format, sink)
	case trace.FormatSimple:
		err = trace.DecodeSimple(f, sink)
	default:
		err = fmt.Errorf("unsupported trace format %s", format)
	}
	return isSocket, err
}

// printStats logs the lookup-cache counters, the replacement for the
// original's sym_show_stats diagnostic dump.
func printStats(store *symbols.Store) {
	st := store.Stats()
	log.Logf(logger.Allow, "symbols", "%d loaded, %d cache hits, %d search hits, %d misses",
		st.NumStored, st.CacheHits, st.SearchHits, st.Misses)
}
