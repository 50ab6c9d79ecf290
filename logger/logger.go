// Package logger provides a small ring-buffered log. The command uses
// it for its startup parameter summary and the final symbol-lookup
// statistics; the decoders' and emitters' recoverable-format warnings
// (unknown packet types, malformed exclude lines, missing QCOV source
// files, dropped simple-trace events) are written to stderr directly
// and do not pass through here.
//
// Every entry is gated by an AllowLogging permission so that callers can
// mute a class of log calls (e.g. in tests) without touching call sites.
package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// AllowLogging is implemented by the first argument to Log/Logf. Log
// entries are recorded only when AllowLogging() returns true.
type AllowLogging interface {
	AllowLogging() bool
}

// allow is the default permission value: logging is always allowed.
type allow struct{}

func (allow) AllowLogging() bool { return true }

// Allow is the zero-value permission that always allows logging.
var Allow AllowLogging = allow{}

type entry struct {
	tag    string
	detail string
}

func (e entry) String() string {
	return fmt.Sprintf("%s: %s\n", e.tag, e.detail)
}

// Logger is a capacity-bounded ring of log entries, additionally mirrored
// to a structured zerolog sink (normally stderr).
type Logger struct {
	crit sync.Mutex

	capacity int
	entries  []entry

	structured zerolog.Logger
}

// NewLogger creates a Logger with room for capacity entries. Once full,
// the oldest entry is dropped to make room for the newest.
func NewLogger(capacity int) *Logger {
	return &Logger{
		capacity:   capacity,
		entries:    make([]entry, 0, capacity),
		structured: zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) { w.Out = os.Stderr })).With().Timestamp().Logger(),
	}
}

func (log *Logger) push(tag, detail string) {
	e := entry{tag: tag, detail: detail}

	log.crit.Lock()
	defer log.crit.Unlock()

	if len(log.entries) >= log.capacity {
		if log.capacity == 0 {
			return
		}
		copy(log.entries, log.entries[1:])
		log.entries[len(log.entries)-1] = e
	} else {
		log.entries = append(log.entries, e)
	}
}

func formatDetail(detail interface{}) string {
	switch d := detail.(type) {
	case error:
		return d.Error()
	case fmt.Stringer:
		return d.String()
	default:
		return fmt.Sprintf("%v", d)
	}
}

// Log records detail under tag, subject to perm.AllowLogging().
//
// detail is formatted specially for errors (via Error()) and
// fmt.Stringer values (via String()); anything else is formatted with
// the %v verb.
func (log *Logger) Log(perm AllowLogging, tag string, detail interface{}) {
	if perm == nil || !perm.AllowLogging() {
		return
	}

	s := formatDetail(detail)
	log.push(tag, s)
	log.structured.Info().Str("tag", tag).Msg(s)
}

// Logf is like Log but formats detail with fmt.Sprintf first.
func (log *Logger) Logf(perm AllowLogging, tag string, format string, args ...interface{}) {
	log.Log(perm, tag, fmt.Sprintf(format, args...))
}

// Write writes every buffered entry to w, oldest first.
func (log *Logger) Write(w io.Writer) {
	log.crit.Lock()
	defer log.crit.Unlock()

	for _, e := range log.entries {
		io.WriteString(w, e.String())
	}
}

// Tail writes the n most recent entries to w, oldest first. Asking for
// more entries than are buffered is fine; asking for zero writes nothing.
func (log *Logger) Tail(w io.Writer, n int) {
	log.crit.Lock()
	defer log.crit.Unlock()

	if n <= 0 {
		return
	}
	if n > len(log.entries) {
		n = len(log.entries)
	}

	for _, e := range log.entries[len(log.entries)-n:] {
		io.WriteString(w, e.String())
	}
}

// Clear empties the buffered entries.
func (log *Logger) Clear() {
	log.crit.Lock()
	defer log.crit.Unlock()
	log.entries = log.entries[:0]
}

// ErrDroppedEvents describes a simple-format trace that reported dropped
// records. Nothing in this module logs or returns it: trace.DecodeSimple
// reports dropped events with its own message on stderr.
var ErrDroppedEvents = errors.New("trace stream dropped events")
