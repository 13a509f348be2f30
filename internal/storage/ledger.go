// Package storage persists the ban ledger and the operator audit trail in the data directory.
package storage

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/mogad0n/oraserv/internal/ban"
)

var (
	ErrPersistence = errors.New("failed to persist ban ledger")
	ErrLoad        = errors.New("failed to load ban ledger")
)

// Persister writes and reads the whole ledger at once.
type Persister interface {
	Load(ctx context.Context) (map[string]ban.Record, error)
	Save(ctx context.Context, records map[string]ban.Record) error
	Close() error
}

// Ledger is the in-memory source of truth for active bans, flushed after every change.
type Ledger struct {
	mu        sync.RWMutex
	flushMu   sync.Mutex
	records   map[string]ban.Record
	persister Persister
}

// OpenLedger loads the persisted ledger.
func OpenLedger(ctx context.Context, persister Persister) (*Ledger, error) {
	records, err := persister.Load(ctx)
	if err != nil {
		return nil, errors.Join(err, ErrLoad)
	}

	if records == nil {
		records = make(map[string]ban.Record)
	}

	return &Ledger{records: records, persister: persister}, nil
}

func (l *Ledger) Get(nick string) (ban.Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.records[nick]

	return rec, ok
}

// Put replaces any record for nick, then flushes.
func (l *Ledger) Put(ctx context.Context, nick string, rec ban.Record) error {
	l.mu.Lock()
	l.records[nick] = rec
	l.mu.Unlock()

	return l.Flush(ctx)
}

// Remove deletes the record for nick, then flushes.
func (l *Ledger) Remove(ctx context.Context, nick string) error {
	l.mu.Lock()
	delete(l.records, nick)
	l.mu.Unlock()

	return l.Flush(ctx)
}

// All returns a copy of the ledger.
func (l *Ledger) All() map[string]ban.Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return maps.Clone(l.records)
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.records)
}

// Flush writes the current ledger. Memory is never rolled back on failure.
func (l *Ledger) Flush(ctx context.Context) error {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	if err := l.persister.Save(ctx, l.All()); err != nil {
		return errors.Join(err, ErrPersistence)
	}

	return nil
}

// Close flushes one last time and releases the persister.
func (l *Ledger) Close(ctx context.Context) error {
	return errors.Join(l.Flush(ctx), l.persister.Close())
}
