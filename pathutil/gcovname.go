package pathutil

import "strings"

// MapSrcFilename rewrites a source filename the way GCOV/QCOV/LCOV
// output paths are derived: optionally strip a trailing suffix, strip a
// leading path prefix, then prepend a new prefix and append newSuffix.
// Returns ok=false where the original would have bailed out (no
// recognizable suffix to remove, or gcovStrip longer than the name).
//
// Two original quirks are preserved rather than fixed, since neither is
// a documented exception to that rule: a name whose only '.' is its
// first byte is treated as having no suffix at all (the backward scan
// for '.' reaches position 0 and the "no suffix" check fires on it
// regardless of the dot actually being there); and the strip-length
// check never verifies gcovStrip actually matched src's prefix before
// using it to size the result -- src "src/a.c" with a gcovStrip of "zz"
// still loses len(gcovStrip) bytes, yielding "src" plus newSuffix.
func MapSrcFilename(src, gcovStrip, gcovPrefix string, removeSuffix bool, newSuffix string) (string, bool) {
	endpos := len(src)
	if removeSuffix {
		for charAt(src, endpos) != '.' && endpos > 0 {
			endpos--
		}
		if endpos == 0 {
			return "", false
		}
	}

	stripLen := len(gcovStrip)
	if stripLen >= endpos {
		return "", false
	}

	f := src
	if strings.HasPrefix(f, gcovStrip) {
		f = f[stripLen:]
	}

	return gcovPrefix + f[:endpos-stripLen] + newSuffix, true
}

// charAt returns the byte at i, or 0 for i == len(s) -- the Go stand-in
// for reading a C string's implicit NUL terminator one past its end.
func charAt(s string, i int) byte {
	if i >= len(s) {
		return 0
	}
	return s[i]
}
