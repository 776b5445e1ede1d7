// Package logbuf keeps a bounded in-memory buffer of notable log entries so
// the admin surface can show recent problems without access to the process
// logs.
package logbuf

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultSize is how many entries the daemon retains.
const DefaultSize = 100

// Buffer is the hook the daemon entrypoint installs on the global logger.
// The admin surface reads it through Recent.
var Buffer = NewHook(DefaultSize)

// Entry is one captured log record.
type Entry struct {
	Time    time.Time              `json:"time"`
	Level   string                 `json:"level"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

// Hook retains the most recent warning and error entries in a fixed-size
// ring.
type Hook struct {
	mu      sync.Mutex
	size    int
	entries []Entry
}

// NewHook returns a Hook retaining at most size entries.
func NewHook(size int) *Hook {
	return &Hook{size: size}
}

// Levels implements logrus.Hook.
func (h *Hook) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.WarnLevel,
		logrus.ErrorLevel,
		logrus.FatalLevel,
		logrus.PanicLevel,
	}
}

// Fire implements logrus.Hook.
func (h *Hook) Fire(entry *logrus.Entry) error {
	var fields map[string]interface{}
	if len(entry.Data) > 0 {
		fields = map[string]interface{}{}
		for k, v := range entry.Data {
			// Errors don't serialize to JSON; keep the message instead.
			if err, ok := v.(error); ok {
				fields[k] = err.Error()
				continue
			}
			fields[k] = v
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, Entry{
		Time:    entry.Time,
		Level:   entry.Level.String(),
		Message: entry.Message,
		Fields:  fields,
	})
	if len(h.entries) > h.size {
		h.entries = h.entries[len(h.entries)-h.size:]
	}

	// Never return an error: logrus prints hook errors straight to stderr,
	// which would interleave with regular output.
	return nil
}

// Recent returns the retained entries, oldest first.
func (h *Hook) Recent() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries := make([]Entry, len(h.entries))
	copy(entries, h.entries)
	return entries
}
