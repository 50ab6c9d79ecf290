package exclude_test

import (
	"strings"
	"testing"

	"github.com/edgarigl/qemu-etrace/exclude"
	"github.com/edgarigl/qemu-etrace/internal/test"
)

// S6: an exclude list entry for src/a.c:10 matches only that line.
func TestMatch(t *testing.T) {
	l, err := exclude.Parse(strings.NewReader("# comment\n\nsrc/a.c:10\n"))
	test.Equate(t, err, nil)

	test.ExpectSuccess(t, l.Match("src/a.c", 10))
	test.ExpectFailure(t, l.Match("src/a.c", 11))
	test.ExpectFailure(t, l.Match("src/b.c", 10))
}

func TestMatchAnyLine(t *testing.T) {
	l, err := exclude.Parse(strings.NewReader("src/a.c:10\n"))
	test.Equate(t, err, nil)

	test.ExpectSuccess(t, l.Match("src/a.c", exclude.AnyLine))
}

func TestMalformedLineSkipped(t *testing.T) {
	l, err := exclude.Parse(strings.NewReader("no-colon-here\nsrc/a.c:10\n"))
	test.Equate(t, err, nil)

	test.ExpectSuccess(t, l.Match("src/a.c", 10))
}

func TestNilListNeverMatches(t *testing.T) {
	var l *exclude.List
	test.ExpectFailure(t, l.Match("src/a.c", 10))
}
