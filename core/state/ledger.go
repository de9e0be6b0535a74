package state

import (
	"errors"
	"fmt"
	"sync"

	"stablerisk/storage"
)

// Ledger is a journaled write buffer over a storage.Database. Writes stay in
// memory until Commit; snapshots taken with Snapshot can be rolled back with
// RevertToSnapshot, which is how callers get all-or-nothing operations.
type Ledger struct {
	mu      sync.Mutex
	db      storage.Database
	dirty   map[string][]byte
	journal []journalEntry
}

type journalEntry struct {
	key     string
	prev    []byte
	existed bool
}

// NewLedger returns a ledger buffering writes against db.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db, dirty: make(map[string][]byte)}
}

func (l *Ledger) get(key []byte) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if value, ok := l.dirty[string(key)]; ok {
		if value == nil {
			return nil, nil
		}
		return append([]byte(nil), value...), nil
	}
	value, err := l.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger read: %w", err)
	}
	return value, nil
}

func (l *Ledger) set(key, value []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := string(key)
	prev, existed := l.dirty[k]
	l.journal = append(l.journal, journalEntry{key: k, prev: prev, existed: existed})
	if value == nil {
		// A nil entry marks a buffered removal.
		l.dirty[k] = nil
		return
	}
	l.dirty[k] = append([]byte{}, value...)
}

// Snapshot returns an identifier for the current buffered state.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.journal)
}

// RevertToSnapshot undoes every write made after the snapshot was taken.
func (l *Ledger) RevertToSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id < 0 || id > len(l.journal) {
		return
	}
	for i := len(l.journal) - 1; i >= id; i-- {
		entry := l.journal[i]
		if entry.existed {
			l.dirty[entry.key] = entry.prev
		} else {
			delete(l.dirty, entry.key)
		}
	}
	l.journal = l.journal[:id]
}

// Pending reports how many keys hold uncommitted writes.
func (l *Ledger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.dirty)
}

// Commit flushes buffered writes through a single batch and resets the
// journal.
func (l *Ledger) Commit() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.dirty) == 0 {
		l.journal = l.journal[:0]
		return nil
	}
	batch := storage.NewBatch()
	for key, value := range l.dirty {
		if value == nil {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), value)
	}
	if err := l.db.Write(batch); err != nil {
		return fmt.Errorf("ledger commit: %w", err)
	}
	l.dirty = make(map[string][]byte)
	l.journal = l.journal[:0]
	return nil
}

// Discard drops every uncommitted write.
func (l *Ledger) Discard() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dirty = make(map[string][]byte)
	l.journal = l.journal[:0]
}
