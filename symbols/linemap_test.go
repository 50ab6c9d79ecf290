package symbols_test

import (
	"strings"
	"testing"

	"github.com/edgarigl/qemu-etrace/internal/test"
	"github.com/edgarigl/qemu-etrace/symbols"
)

func TestBuildLineMapPrimaryAndInlinedRecords(t *testing.T) {
	st, err := symbols.ParseNM(strings.NewReader(
		"0000000000001000 0000000000000010 T foo\n",
	))
	test.Equate(t, err, nil)

	al := "" +
		"0x1000: /build/src/foo.c:10\n" +
		" (inlined by) /build/src/inc/../helper.c:20\n" +
		"0x1004: /build/src/foo.c:11\n"

	err = symbols.BuildLineMap(st, strings.NewReader(al))
	test.Equate(t, err, nil)

	foo := st.LookupByName("foo")
	test.ExpectEquality(t, foo.SrcFilename, "/build/src/foo.c")
	test.ExpectEquality(t, foo.MaxLine, uint32(20))

	word0 := foo.Linemap[0]
	test.ExpectInequality(t, word0, (*symbols.SrcLoc)(nil))
	test.ExpectEquality(t, word0.Filename, "/build/src/foo.c")
	test.ExpectEquality(t, word0.Linenr, uint32(10))
	test.ExpectEquality(t, word0.Flags&symbols.LocInlined, symbols.LocFlags(0))

	test.ExpectInequality(t, word0.Next, (*symbols.SrcLoc)(nil))
	test.ExpectEquality(t, word0.Next.Filename, "/build/src/helper.c")
	test.ExpectEquality(t, word0.Next.Linenr, uint32(20))
	test.ExpectEquality(t, word0.Next.Flags&symbols.LocInlined, symbols.LocInlined)

	word1 := foo.Linemap[1]
	test.ExpectInequality(t, word1, (*symbols.SrcLoc)(nil))
	test.ExpectEquality(t, word1.Filename, "/build/src/foo.c")
	test.ExpectEquality(t, word1.Linenr, uint32(11))
}

func TestBuildLineMapRejectsLeadingInlinedRecord(t *testing.T) {
	st, err := symbols.ParseNM(strings.NewReader(
		"0000000000001000 0000000000000010 T foo\n",
	))
	test.Equate(t, err, nil)

	err = symbols.BuildLineMap(st, strings.NewReader(" (inlined by) foo.c:1\n"))
	test.ExpectFailure(t, err)
}
