// Package audit holds the trust audit trail: an append-only, sequence-ordered
// record of every evaluation the gateway performs, plus a write-behind
// archiver that batches entries into durable storage off the hot path.
package audit

import (
	"sync"
	"time"

	"github.com/xela07ax/trustgate/internal/domain"
)

type Filter string

const (
	FilterAll     Filter = "all"
	FilterAllowed Filter = "allowed"
	FilterBlocked Filter = "blocked"
)

// ParseFilter maps a query value onto a known filter; anything
// unrecognized (including "") means no filtering.
func ParseFilter(s string) Filter {
	switch Filter(s) {
	case FilterAllowed:
		return FilterAllowed
	case FilterBlocked:
		return FilterBlocked
	}
	return FilterAll
}

// Sink receives committed entries for archival. Append never waits on it.
type Sink interface {
	Log(entry domain.TrustLogEntry)
}

// Log is the authoritative in-process audit trail. Append allocates the next
// sequence number under the lock and never fails on a well-formed entry;
// this is the commit point the gateway orders deliveries against. Entries are
// immutable after Append; no update or delete exists.
type Log struct {
	mu      sync.RWMutex
	entries []domain.TrustLogEntry
	byID    map[uint64]int
	seq     uint64
	sink    Sink
}

// NewLog creates an empty audit log. sink may be nil (tests, demo mode).
func NewLog(sink Sink) *Log {
	return NewLogAt(sink, 0)
}

// NewLogAt starts the sequence after lastID, the archive's high-water mark.
// A restarted process must not reissue ids that already exist durably.
func NewLogAt(sink Sink, lastID uint64) *Log {
	return &Log{
		byID: make(map[uint64]int),
		seq:  lastID,
		sink: sink,
	}
}

// Append commits the entry, assigning its sequence id and, if unset, its
// timestamp. Entries are ordered by the completion of the evaluation that
// produced them, not by request arrival.
func (l *Log) Append(entry domain.TrustLogEntry) domain.TrustLogEntry {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	l.seq++
	entry.ID = l.seq
	l.byID[entry.ID] = len(l.entries)
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	if l.sink != nil {
		l.sink.Log(entry)
	}
	return entry
}

// List returns matching entries in ascending creation order (sequence order,
// which also breaks timestamp ties).
func (l *Log) List(f Filter) []domain.TrustLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.TrustLogEntry, 0, len(l.entries))
	for _, e := range l.entries {
		switch f {
		case FilterAllowed:
			if !e.Result.Allowed {
				continue
			}
		case FilterBlocked:
			if e.Result.Allowed {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

// Get looks an entry up by its sequence id.
func (l *Log) Get(id uint64) (domain.TrustLogEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx, ok := l.byID[id]
	if !ok {
		return domain.TrustLogEntry{}, false
	}
	return l.entries[idx], true
}

// Len reports the number of committed entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
