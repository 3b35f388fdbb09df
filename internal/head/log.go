package head

import (
	"sync"

	"gonum.org/v1/gonum/mat"

	"metabert/pkg/types"
)

// Entry is a frozen copy of a used head.
type Entry struct {
	TaskID string
	Mode   types.OutputMode
	W      *mat.Dense
	B      *mat.Dense
}

// Log keeps the most recent heads produced during meta-training. It is
// bounded; the oldest entries are dropped first.
type Log struct {
	mu      sync.Mutex
	limit   int
	entries []Entry
	dropped int
}

// NewLog returns a log holding at most limit entries (limit <= 0 keeps none).
func NewLog(limit int) *Log { return &Log{limit: limit} }

// Record copies h into the log.
func (l *Log) Record(h *Head) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limit <= 0 {
		l.dropped++
		return
	}
	if len(l.entries) == l.limit {
		l.entries = append(l.entries[:0], l.entries[1:]...)
		l.dropped++
	}
	l.entries = append(l.entries, Entry{
		TaskID: h.TaskID,
		Mode:   h.Mode,
		W:      mat.DenseCopyOf(h.W.Value),
		B:      mat.DenseCopyOf(h.B.Value),
	})
}

// Entries returns a copy of the retained entries, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len is the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Dropped counts heads evicted or never retained.
func (l *Log) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}
