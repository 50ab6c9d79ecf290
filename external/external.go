// Package external spawns the name-listing, address-to-line, and
// disassembly tools this tool treats as black boxes, using os/exec in
// place of the original's fork+pipe+waitpid plumbing.
package external

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/edgarigl/qemu-etrace/symbols"
)

// LoadSymbols runs "<nm> -C -S <elf>" to completion, then runs
// "<addr2line> -a -i -p -e <elf>" fed every word address of every symbol
// nm found, building and returning the populated symbol store.
func LoadSymbols(ctx context.Context, nmPath, addr2linePath, elfPath string) (*symbols.Store, error) {
	nmOut, err := runCapture(ctx, nmPath, "-C", "-S", elfPath)
	if err != nil {
		return nil, fmt.Errorf("external: running nm: %w", err)
	}

	store, err := symbols.ParseNM(bytes.NewReader(nmOut))
	if err != nil {
		return nil, fmt.Errorf("external: parsing nm output: %w", err)
	}

	if err := buildLineMap(ctx, store, addr2linePath, elfPath); err != nil {
		return nil, err
	}
	return store, nil
}

func buildLineMap(ctx context.Context, store *symbols.Store, addr2linePath, elfPath string) error {
	cmd := exec.CommandContext(ctx, addr2linePath, "-a", "-i", "-p", "-e", elfPath)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("external: addr2line stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("external: addr2line stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("external: starting addr2line: %w", err)
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		w := bufio.NewWriter(stdin)
		for _, sym := range store.All() {
			for addr := sym.Addr; addr < sym.End(); addr += 4 {
				fmt.Fprintf(w, "%x\n", addr)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
		return stdin.Close()
	})

	var buildErr error
	g.Go(func() error {
		buildErr = symbols.BuildLineMap(store, stdout)
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("external: feeding addr2line: %w", err)
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("external: addr2line: %w", err)
	}
	return buildErr
}

func runCapture(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Disassembler shells out to objdump to render a blob of raw code, in
// the shape trace.Disassembler expects. Like the original's
// disas_objdump, it stages the code in a temp file, since objdump
// -b binary needs a seekable file argument rather than a pipe; the
// disassembly is read back from objdump's stdout.
type Disassembler struct{}

// Disassemble runs "<objdump> -D -b binary -m <machine> -EB|-EL
// --adjust-vma=<addr> <tmpfile>" over code and writes the disassembly
// to w, skipping objdump's 7-line preamble exactly as the original does.
func (Disassembler) Disassemble(w io.Writer, objdump, machine string, bigEndian bool, addr uint64, code []byte) error {
	if objdump == "" {
		return nil
	}

	tmp, err := writeTempInput(code)
	if err != nil {
		return fmt.Errorf("external: staging objdump input: %w", err)
	}
	defer removeTemp(tmp)

	endian := "-EL"
	if bigEndian {
		endian = "-EB"
	}

	cmd := exec.Command(objdump, "-D", "-b", "binary", "-m", machine, endian,
		"--adjust-vma=0x"+strconv.FormatUint(addr, 16), tmp)

	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("external: running objdump: %w", err)
	}

	return skipPreambleLines(w, out, 7)
}

// skipPreambleLines writes out to w after dropping the first n lines,
// matching disas_objdump's fixed 7-line skip over objdump's file-format
// banner and column header.
func skipPreambleLines(w io.Writer, out []byte, n int) error {
	pos := 0
	for i := 0; i < n; i++ {
		idx := bytes.IndexByte(out[pos:], '\n')
		if idx < 0 {
			return nil
		}
		pos += idx + 1
	}
	_, err := w.Write(out[pos:])
	return err
}
