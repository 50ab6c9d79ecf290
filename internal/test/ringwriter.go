package test

import "errors"

// RingWriter keeps only the most recently written limit bytes, discarding
// the oldest bytes as new ones arrive.
type RingWriter struct {
	limit int
	buf   []byte
}

// NewRingWriter creates a RingWriter retaining at most limit trailing bytes.
func NewRingWriter(limit int) (*RingWriter, error) {
	if limit < 0 {
		return nil, errors.New("ring writer: negative limit")
	}
	return &RingWriter{limit: limit, buf: make([]byte, 0, limit)}, nil
}

// Write implements io.Writer.
func (r *RingWriter) Write(p []byte) (int, error) {
	r.buf = append(r.buf, p...)
	if len(r.buf) > r.limit {
		r.buf = r.buf[len(r.buf)-r.limit:]
	}
	return len(p), nil
}

// String returns the currently retained bytes.
func (r *RingWriter) String() string {
	return string(r.buf)
}

// Reset empties the writer.
func (r *RingWriter) Reset() {
	r.buf = r.buf[:0]
}
