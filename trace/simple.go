package trace

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/edgarigl/qemu-etrace/symbols"
)

const (
	simpleHeaderEventID = ^uint64(0)
	simpleHeaderMagic   = 0xf2b177cb0aa429b4
	simpleHeaderVersion = 4

	simpleDroppedEventID = ^uint64(0) - 1

	simpleRecordMapping = 0
	simpleRecordEvent   = 1

	simpleMaxNameLen   = 4096
	simpleEventHdrSize = 24 // event(8) + timestamp_ns(8) + length(4) + pid(4)
)

// DecodeSimple reads the QEMU "simple" mapping-table trace format: a
// fixed header, then a stream of records each tagged MAPPING (installs
// a numeric event id -> name binding) or EVENT (a firing of a
// previously mapped event, with raw uint64 arguments). Only the
// "tb_enter_exec" event is understood; its arguments are
// {_, pc_start, pc_end}, fed into the coverage path with a duration of
// 0 -- this format carries no timing information for this event.
func DecodeSimple(r io.Reader, sink *Sink) error {
	var hdr [3]uint64
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("trace: cannot read simple trace header: %w", err)
	}
	if hdr[0] != simpleHeaderEventID || hdr[1] != simpleHeaderMagic {
		return fmt.Errorf("trace: invalid QEMU simple trace file")
	}
	if hdr[2] != simpleHeaderVersion {
		return ErrUnsupportedVersion{Major: uint16(hdr[2]), Simple: true}
	}

	events := make(map[uint64]string)
	var droppedEvents uint64

	for {
		var recType uint64
		if err := binary.Read(r, binary.LittleEndian, &recType); err != nil {
			if err == io.EOF {
				if droppedEvents > 0 {
					fmt.Fprintf(os.Stderr, "Warning: %d event(s) dropped by QEMU\n", droppedEvents)
				}
				return nil
			}
			return fmt.Errorf("trace: unexpected end of file while reading trace: %w", err)
		}

		switch recType {
		case simpleRecordMapping:
			id, name, err := readSimpleMapping(r)
			if err != nil {
				return err
			}
			events[id] = name

		case simpleRecordEvent:
			event, args, err := readSimpleEvent(r)
			if err != nil {
				return err
			}

			switch {
			case event == simpleDroppedEventID:
				if len(args) > 0 {
					droppedEvents += args[0]
				}
			default:
				name, ok := events[event]
				if !ok {
					fmt.Fprintf(os.Stderr, "Error while reading trace file: unknown event id %d. Ignoring\n", event)
					continue
				}
				if name == "tb_enter_exec" {
					handleTBEnterExec(sink, args)
				}
			}

		default:
			return fmt.Errorf("trace: unknown simple trace record type %d", recType)
		}
	}
}

func readSimpleMapping(r io.Reader) (id uint64, name string, err error) {
	if err = binary.Read(r, binary.LittleEndian, &id); err != nil {
		return 0, "", fmt.Errorf("trace: unexpected end of file while reading trace: %w", err)
	}
	var length uint32
	if err = binary.Read(r, binary.LittleEndian, &length); err != nil {
		return 0, "", fmt.Errorf("trace: unexpected end of file while reading trace: %w", err)
	}
	if length > simpleMaxNameLen {
		return 0, "", fmt.Errorf("trace: trace name length too large in mapping")
	}
	buf := make([]byte, length)
	if _, err = io.ReadFull(r, buf); err != nil {
		return 0, "", fmt.Errorf("trace: unexpected end of file while reading trace: %w", err)
	}
	return id, string(buf), nil
}

func readSimpleEvent(r io.Reader) (event uint64, args []uint64, err error) {
	var fixed struct {
		Event     uint64
		Timestamp uint64
		Length    uint32
		PID       uint32
	}
	if err = binary.Read(r, binary.LittleEndian, &fixed); err != nil {
		return 0, nil, fmt.Errorf("trace: unexpected end of file while reading trace: %w", err)
	}
	if fixed.Length < simpleEventHdrSize || fixed.Length > simpleMaxNameLen {
		return 0, nil, fmt.Errorf("trace: bad record size: %d", fixed.Length)
	}

	argBytes := int(fixed.Length) - simpleEventHdrSize
	buf := make([]byte, argBytes)
	if _, err = io.ReadFull(r, buf); err != nil {
		return 0, nil, fmt.Errorf("trace: unexpected end of file while reading trace: %w", err)
	}

	args = make([]uint64, argBytes/8)
	for i := range args {
		args[i] = binary.LittleEndian.Uint64(buf[i*8 : i*8+8])
	}
	return fixed.Event, args, nil
}

func handleTBEnterExec(sink *Sink, args []uint64) {
	if len(args) < 3 {
		return
	}
	pcStart := args[1]
	pcEnd := args[2]
	const duration = 0

	if !sink.CoverageEnabled {
		return
	}

	sym := sink.Store.LookupByAddr(pcStart)
	if sym == nil {
		sym = sink.Store.Unknown()
	}

	addr := pcStart
	for sym != nil && addr < pcEnd {
		tend := pcEnd
		if tend > sym.End() {
			tend = sym.End()
			fmt.Fprintf(os.Stderr, "WARNING: fixup sym %s has spans over to another symbol\n", sym.Name)
		}
		symbols.UpdateCoverage(sym, addr, tend, duration)
		addr = tend
		sym = sink.Store.LookupByAddr(addr)
	}
}
