package trace

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/edgarigl/qemu-etrace/symbols"
)

// maxPacketPayload bounds a single framed packet's payload, guarding
// against a corrupt length field forcing an unbounded allocation.
const maxPacketPayload = 2 * 1024 * 1024

// etraceMinVersionMajor is the only INFO major version this decoder
// accepts. The name is inherited as-is from the original tool, which
// despite the name uses it as a ceiling, not a floor: any major
// greater than this value is rejected.
const etraceMinVersionMajor = 0

type pktType uint16

const (
	typeExec        pktType = 1
	typeTB          pktType = 2
	typeNote        pktType = 3
	typeMem         pktType = 4
	typeArch        pktType = 5
	typeInfo        pktType = 0x4554
	typeBarrier     pktType = 6
	typeOldEventU64 pktType = 7
	typeEventU64    pktType = 8
)

const infoFlagTBChaining = 1 << 0

type pktHeader struct {
	Type   uint16
	UnitID uint16
	Len    uint32
}

type archSide struct {
	ArchID    uint32
	ArchBits  uint8
	BigEndian bool
}

type etraceState struct {
	attr         uint64
	versionMajor uint16
	versionMinor uint16

	guest, host archSide

	unitID uint16

	sink *Sink

	unknownWarned bool
}

// DecodeETrace reads the framed binary trace protocol from r,
// resolving and updating coverage against sink.Store and, where
// sink.TextOut is set, writing one decoded line per packet in the
// same shapes the original tool printed.
func DecodeETrace(r io.Reader, sink *Sink) error {
	st := &etraceState{sink: sink}

	for {
		var hdr pktHeader
		if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("trace: reading packet header: %w", err)
		}

		if hdr.Len > maxPacketPayload {
			return fmt.Errorf("trace: packet too large (%d bytes)", hdr.Len)
		}

		payload := make([]byte, hdr.Len)
		if _, err := io.ReadFull(r, payload); err != nil {
			return fmt.Errorf("trace: reading packet payload: %w", err)
		}

		st.unitID = hdr.UnitID

		var err error
		switch pktType(hdr.Type) {
		case typeInfo:
			err = st.processInfo(payload)
		case typeArch:
			err = st.processArch(payload)
		case typeExec:
			err = st.processExec(payload)
		case typeTB:
			err = st.processTB(payload)
		case typeNote:
			st.processNote(payload)
		case typeMem:
			err = st.processMem(payload)
		case typeOldEventU64, typeEventU64:
			err = st.processEventU64(payload)
		case typeBarrier:
			// Multi-producer ordering hint; this decoder does not
			// queue and reorder packets across producers.
		default:
			if !st.unknownWarned {
				fmt.Fprintf(os.Stderr, "Non-fatal warning: unknown etrace package type %d\nMaybe you need to update qemu-etrace?\n", hdr.Type)
				st.unknownWarned = true
			}
		}
		if err != nil {
			return err
		}
	}
}

func (st *etraceState) processInfo(payload []byte) error {
	if len(payload) < 12 {
		return fmt.Errorf("trace: short INFO packet")
	}
	st.attr = binary.LittleEndian.Uint64(payload[0:8])
	st.versionMajor = binary.LittleEndian.Uint16(payload[8:10])
	st.versionMinor = binary.LittleEndian.Uint16(payload[10:12])

	if st.versionMajor > etraceMinVersionMajor {
		return ErrUnsupportedVersion{Major: st.versionMajor, Minor: st.versionMinor}
	}
	return nil
}

func parseArchSide(b []byte) archSide {
	return archSide{
		ArchID:    binary.LittleEndian.Uint32(b[0:4]),
		ArchBits:  b[4],
		BigEndian: b[5] != 0,
	}
}

func (st *etraceState) processArch(payload []byte) error {
	if len(payload) < 12 {
		return fmt.Errorf("trace: short ARCH packet")
	}
	st.guest = parseArchSide(payload[0:6])
	st.host = parseArchSide(payload[6:12])

	if st.sink.TextOut != nil {
		fmt.Fprintf(st.sink.TextOut, "guest arch=%d %dbit\n", st.guest.ArchID, st.guest.ArchBits)
		fmt.Fprintf(st.sink.TextOut, "host arch=%d %dbit\n", st.host.ArchID, st.host.ArchBits)
	}
	return nil
}

func (st *etraceState) processTB(payload []byte) error {
	if st.sink.TextOut == nil {
		return nil
	}
	if len(payload) < 32 {
		return fmt.Errorf("trace: short TB packet")
	}

	vaddr := binary.LittleEndian.Uint64(payload[0:8])
	paddr := binary.LittleEndian.Uint64(payload[8:16])
	hostAddr := binary.LittleEndian.Uint64(payload[16:24])
	guestLen := binary.LittleEndian.Uint32(payload[24:28])
	hostLen := binary.LittleEndian.Uint32(payload[28:32])

	data := payload[32:]
	if uint32(len(data)) < guestLen+hostLen {
		return fmt.Errorf("trace: TB packet shorter than its code lengths")
	}

	if st.sink.GuestMachine != "" && st.sink.Disas != nil {
		fmt.Fprintf(st.sink.TextOut, "guest virt=%x phys=%x\n", vaddr, paddr)
		if err := st.sink.Disas.Disassemble(st.sink.TextOut, st.sink.GuestObjdump, st.sink.GuestMachine, st.guest.BigEndian, vaddr, data[:guestLen]); err != nil {
			return err
		}
		fmt.Fprintln(st.sink.TextOut)
	}

	if st.sink.HostMachine != "" && st.sink.Disas != nil {
		fmt.Fprintf(st.sink.TextOut, "host\n")
		if err := st.sink.Disas.Disassemble(st.sink.TextOut, st.sink.HostObjdump, st.sink.HostMachine, st.host.BigEndian, hostAddr, data[guestLen:guestLen+hostLen]); err != nil {
			return err
		}
		fmt.Fprintln(st.sink.TextOut)
	}
	return nil
}

func (st *etraceState) processNote(payload []byte) {
	if st.sink.TextOut == nil {
		return
	}
	if len(payload) < 8 {
		return
	}
	fmt.Fprint(st.sink.TextOut, string(payload[8:]))
}

func (st *etraceState) processMem(payload []byte) error {
	if st.sink.TextOut == nil {
		return nil
	}
	if len(payload) < 37 {
		return fmt.Errorf("trace: short MEM packet")
	}
	// payload[8:16] is the virtual address; unused here, matching the
	// original formatter which only prints the physical address.
	paddr := binary.LittleEndian.Uint64(payload[16:24])
	value := binary.LittleEndian.Uint64(payload[24:32])
	attr := binary.LittleEndian.Uint32(payload[32:36])
	time := binary.LittleEndian.Uint64(payload[0:8])

	rw := byte('r')
	if attr&1 != 0 {
		rw = 'w'
	}
	fmt.Fprintf(st.sink.TextOut, "M%d %d %c %x %x\n", st.unitID, time, rw, paddr, value)
	return nil
}

func (st *etraceState) processEventU64(payload []byte) error {
	if st.sink.TextOut == nil {
		return nil
	}
	if len(payload) < 24 {
		return fmt.Errorf("trace: short EVENT_U64 packet")
	}
	time := binary.LittleEndian.Uint64(payload[0:8])
	unitID := binary.LittleEndian.Uint32(payload[8:12])
	devNameLen := binary.LittleEndian.Uint16(payload[12:14])
	eventNameLen := binary.LittleEndian.Uint16(payload[14:16])
	val := binary.LittleEndian.Uint64(payload[16:24])

	names := payload[24:]
	if int(devNameLen)+int(eventNameLen) > len(names) {
		return fmt.Errorf("trace: EVENT_U64 name lengths exceed packet")
	}
	dev := string(names[:devNameLen])
	event := string(names[devNameLen : devNameLen+eventNameLen])

	fmt.Fprintf(st.sink.TextOut, "EV %d %d %s.%s %d\n", time, unitID, dev, event, val)
	return nil
}

func (st *etraceState) processExec(payload []byte) error {
	if len(payload) < 8 {
		return fmt.Errorf("trace: short EXEC packet")
	}
	startTime := binary.LittleEndian.Uint64(payload[0:8])
	now := startTime
	entries := payload[8:]

	var entSize int
	switch st.guest.ArchBits {
	case 32:
		entSize = 12
	case 64:
		entSize = 20
	default:
		return fmt.Errorf("trace: EXEC packet seen before a usable ARCH packet")
	}

	n := len(entries) / entSize
	for i := 0; i < n; i++ {
		e := entries[i*entSize : (i+1)*entSize]

		var start, end uint64
		var duration uint32
		if entSize == 12 {
			duration = binary.LittleEndian.Uint32(e[0:4])
			start = uint64(binary.LittleEndian.Uint32(e[4:8]))
			end = uint64(binary.LittleEndian.Uint32(e[8:12]))
		} else {
			duration = binary.LittleEndian.Uint32(e[0:4])
			start = binary.LittleEndian.Uint64(e[4:12])
			end = binary.LittleEndian.Uint64(e[12:20])
		}

		sym := st.sink.Store.LookupByAddr(start)

		if st.sink.TextOut != nil {
			writeExecLine(st.sink.TextOut, st.unitID, now, start, end, sym)
		}

		if st.sink.CoverageEnabled {
			if st.attr&infoFlagTBChaining != 0 {
				return ErrTBChaining
			}
			if sym == nil {
				sym = st.sink.Store.Unknown()
			}
			addr := start
			for sym != nil && addr < end {
				tend := end
				if tend > sym.End() {
					tend = sym.End()
					fmt.Fprintf(os.Stderr, "WARNING: fixup sym %s has spans over to another symbol\n", sym.Name)
				}
				symbols.UpdateCoverage(sym, addr, tend, duration)
				addr = tend
				sym = st.sink.Store.LookupByAddr(addr)
			}
		}

		now += uint64(duration)
	}
	return nil
}

// execLineLimit matches the original tool's fixed 80-byte stack buffer
// (79 bytes of content plus the trailing newline).
const execLineLimit = 79

func writeExecLine(w io.Writer, unitID uint16, now, start, end uint64, sym *symbols.Sym) {
	var b strings.Builder
	fmt.Fprintf(&b, "E%x %d %x %x", unitID, now, start, end)
	if sym != nil {
		fmt.Fprintf(&b, " %s", sym.Name)
	}

	line := b.String()
	if len(line) > execLineLimit {
		line = line[:execLineLimit]
	}
	fmt.Fprintln(w, line)
}
