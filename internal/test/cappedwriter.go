package test

import (
	"errors"
	"strings"
)

// CappedWriter accumulates writes up to a fixed byte limit; bytes beyond
// the limit are silently dropped, so a write that crosses the limit is
// stored only up to it.
type CappedWriter struct {
	limit int
	buf   strings.Builder
}

// NewCappedWriter creates a CappedWriter that accepts at most limit bytes.
func NewCappedWriter(limit int) (*CappedWriter, error) {
	if limit < 0 {
		return nil, errors.New("capped writer: negative limit")
	}
	return &CappedWriter{limit: limit}, nil
}

// Write implements io.Writer. It never returns an error; bytes beyond the
// cap are accepted (as far as the caller is concerned) but not stored.
func (c *CappedWriter) Write(p []byte) (int, error) {
	room := c.limit - c.buf.Len()
	if room > 0 {
		if room > len(p) {
			room = len(p)
		}
		c.buf.WriteString(string(p[:room]))
	}
	return len(p), nil
}

// String returns the bytes accumulated so far.
func (c *CappedWriter) String() string {
	return c.buf.String()
}

// Reset empties the writer.
func (c *CappedWriter) Reset() {
	c.buf.Reset()
}
