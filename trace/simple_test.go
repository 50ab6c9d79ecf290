package trace_test

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/edgarigl/qemu-etrace/internal/test"
	"github.com/edgarigl/qemu-etrace/symbols"
	"github.com/edgarigl/qemu-etrace/trace"
)

func writeU64(buf *bytes.Buffer, v uint64) {
	binary.Write(buf, binary.LittleEndian, v)
}

func writeU32(buf *bytes.Buffer, v uint32) {
	binary.Write(buf, binary.LittleEndian, v)
}

func simpleHeader() *bytes.Buffer {
	var buf bytes.Buffer
	writeU64(&buf, ^uint64(0))
	writeU64(&buf, 0xf2b177cb0aa429b4)
	writeU64(&buf, 4)
	return &buf
}

// S5: a simple-format header whose version doesn't match is rejected.
func TestDecodeSimpleBadVersion(t *testing.T) {
	var buf bytes.Buffer
	writeU64(&buf, ^uint64(0))
	writeU64(&buf, 0xf2b177cb0aa429b4)
	writeU64(&buf, 99)

	err := trace.DecodeSimple(&buf, &trace.Sink{})
	test.ExpectFailure(t, err)

	if _, ok := err.(trace.ErrUnsupportedVersion); !ok {
		t.Errorf("got %T, wanted trace.ErrUnsupportedVersion", err)
	}
}

func appendMapping(buf *bytes.Buffer, id uint64, name string) {
	writeU64(buf, 0) // TRACE_RECORD_TYPE_MAPPING
	writeU64(buf, id)
	writeU32(buf, uint32(len(name)))
	buf.WriteString(name)
}

func appendEvent(buf *bytes.Buffer, event uint64, args ...uint64) {
	writeU64(buf, 1) // TRACE_RECORD_TYPE_EVENT
	writeU64(buf, event)
	writeU64(buf, 0) // timestamp_ns, unused by tb_enter_exec
	length := uint32(24 + 8*len(args))
	writeU32(buf, length)
	writeU32(buf, 0) // pid
	for _, a := range args {
		writeU64(buf, a)
	}
}

func TestDecodeSimpleTBEnterExec(t *testing.T) {
	st, err := symbols.ParseNM(strings.NewReader(
		"0000000000001000 0000000000000010 T foo\n",
	))
	test.Equate(t, err, nil)

	buf := simpleHeader()
	appendMapping(buf, 7, "tb_enter_exec")
	appendEvent(buf, 7, 0, 0x1000, 0x1010)

	sink := &trace.Sink{Store: st, CoverageEnabled: true}
	err = trace.DecodeSimple(buf, sink)
	test.Equate(t, err, nil)

	foo := st.LookupByName("foo")
	test.ExpectInequality(t, foo, (*symbols.Sym)(nil))
	// tb_enter_exec carries no timing in this format: every update
	// contributes a duration of 0.
	test.ExpectEquality(t, foo.TotalTime, uint64(0))
	test.ExpectEquality(t, foo.CovEnt, []uint64{1, 1, 1, 1, 0})
}

func TestDecodeSimpleDroppedEvents(t *testing.T) {
	buf := simpleHeader()
	appendEvent(buf, ^uint64(0)-1, 3)

	err := trace.DecodeSimple(buf, &trace.Sink{})
	test.Equate(t, err, nil)
}

func TestDecodeSimpleUnknownEventIgnored(t *testing.T) {
	buf := simpleHeader()
	appendEvent(buf, 123, 1, 2, 3)

	err := trace.DecodeSimple(buf, &trace.Sink{})
	test.Equate(t, err, nil)
}
