// Package ledger tracks reserved seats per journey.
//
// Every journey has its own entry guarded by its own mutex, so reservations on
// different journeys never wait on each other. Mutations that must commit
// together with a persistence transaction go through Atomically: the entries
// stay locked while the caller's function runs, and staged changes are applied
// only when that function succeeds.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"shuttle/internal/domain"
)

// Source loads the authoritative capacity of a journey the first time the
// ledger sees it. reserved is the sum of seats over active bookings.
type Source interface {
	JourneyCapacity(ctx context.Context, journeyID string) (total, reserved int, err error)
}

type entry struct {
	mu       sync.Mutex
	loaded   bool
	dropped  bool
	total    int
	reserved int
}

type Ledger struct {
	mu      sync.Mutex
	entries map[string]*entry
	source  Source
	log     *zap.Logger
}

func New(source Source, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		entries: make(map[string]*entry),
		source:  source,
		log:     log,
	}
}

// acquire returns the entry for id locked and loaded.
func (l *Ledger) acquire(ctx context.Context, id string) (*entry, error) {
	for {
		l.mu.Lock()
		e, ok := l.entries[id]
		if !ok {
			e = &entry{}
			l.entries[id] = e
		}
		l.mu.Unlock()

		e.mu.Lock()
		if e.dropped {
			e.mu.Unlock()
			continue
		}
		if !e.loaded {
			total, reserved, err := l.source.JourneyCapacity(ctx, id)
			if err != nil {
				l.discard(id, e)
				e.mu.Unlock()
				return nil, err
			}
			e.total, e.reserved, e.loaded = total, reserved, true
		}
		return e, nil
	}
}

// discard unlinks e; the caller holds e.mu.
func (l *Ledger) discard(id string, e *entry) {
	e.dropped = true
	l.mu.Lock()
	if l.entries[id] == e {
		delete(l.entries, id)
	}
	l.mu.Unlock()
}

// Atomically locks the entries of journeyIDs (sorted, deduplicated) and runs
// fn. Changes staged on the Tx are applied only if fn returns nil.
func (l *Ledger) Atomically(ctx context.Context, journeyIDs []string, fn func(*Tx) error) error {
	ids := dedupSorted(journeyIDs)
	tx := &Tx{
		ledger:  l,
		entries: make(map[string]*entry, len(ids)),
		deltas:  make(map[string]int, len(ids)),
		totals:  make(map[string]int),
		drops:   make(map[string]bool),
	}
	defer func() {
		for _, e := range tx.entries {
			e.mu.Unlock()
		}
	}()

	for _, id := range ids {
		e, err := l.acquire(ctx, id)
		if err != nil {
			return err
		}
		tx.entries[id] = e
	}

	if err := fn(tx); err != nil {
		return err
	}

	for id, e := range tx.entries {
		e.reserved += tx.deltas[id]
		if total, ok := tx.totals[id]; ok {
			e.total = total
		}
		if tx.drops[id] {
			l.discard(id, e)
		}
	}
	return nil
}

// Reserve atomically admits seats on journeyID against its capacity.
func (l *Ledger) Reserve(ctx context.Context, journeyID string, seats int, allowOverbook bool) error {
	return l.Atomically(ctx, []string{journeyID}, func(tx *Tx) error {
		return tx.Reserve(journeyID, seats, allowOverbook)
	})
}

// Release gives back seats on journeyID.
func (l *Ledger) Release(ctx context.Context, journeyID string, seats int) error {
	return l.Atomically(ctx, []string{journeyID}, func(tx *Tx) error {
		return tx.Release(journeyID, seats)
	})
}

func (l *Ledger) CurrentReserved(ctx context.Context, journeyID string) (int, error) {
	e, err := l.acquire(ctx, journeyID)
	if err != nil {
		return 0, err
	}
	defer e.mu.Unlock()
	return e.reserved, nil
}

// Available is total minus reserved; negative after an admin overbook.
func (l *Ledger) Available(ctx context.Context, journeyID string) (int, error) {
	e, err := l.acquire(ctx, journeyID)
	if err != nil {
		return 0, err
	}
	defer e.mu.Unlock()
	return e.total - e.reserved, nil
}

// Forget drops the cached entry so the next access reloads it from the Source.
func (l *Ledger) Forget(journeyID string) {
	l.mu.Lock()
	e, ok := l.entries[journeyID]
	l.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	l.discard(journeyID, e)
	e.mu.Unlock()
}

// Tx stages ledger changes for the entries locked by Atomically.
type Tx struct {
	ledger  *Ledger
	entries map[string]*entry
	deltas  map[string]int
	totals  map[string]int
	drops   map[string]bool
}

func (t *Tx) entry(journeyID string) (*entry, error) {
	e, ok := t.entries[journeyID]
	if !ok {
		return nil, domain.InternalError{
			Msg: fmt.Sprintf("journey %s not locked in ledger transaction", journeyID),
			Err: domain.ErrInvariantViolation,
		}
	}
	return e, nil
}

// Reserved is the reserved count including staged changes.
func (t *Tx) Reserved(journeyID string) int {
	e, ok := t.entries[journeyID]
	if !ok {
		return 0
	}
	return e.reserved + t.deltas[journeyID]
}

// Total is the capacity including a staged SetTotal.
func (t *Tx) Total(journeyID string) int {
	if total, ok := t.totals[journeyID]; ok {
		return total
	}
	e, ok := t.entries[journeyID]
	if !ok {
		return 0
	}
	return e.total
}

func (t *Tx) Available(journeyID string) int {
	return t.Total(journeyID) - t.Reserved(journeyID)
}

// Reserve checks reserved+seats <= total unless allowOverbook, then stages the increment.
func (t *Tx) Reserve(journeyID string, seats int, allowOverbook bool) error {
	if _, err := t.entry(journeyID); err != nil {
		return err
	}
	if seats < 1 {
		return domain.ValidationError{Field: "seats", Err: domain.ErrInvalidSeats}
	}
	available := t.Available(journeyID)
	if !allowOverbook && seats > available {
		if available < 0 {
			available = 0
		}
		return domain.CapacityError{JourneyID: journeyID, Requested: seats, Available: available}
	}
	t.deltas[journeyID] += seats
	return nil
}

// Release stages a decrement. Releasing more than is reserved means the
// ledger and the booking set diverged, which is reported as an invariant violation.
func (t *Tx) Release(journeyID string, seats int) error {
	if _, err := t.entry(journeyID); err != nil {
		return err
	}
	reserved := t.Reserved(journeyID)
	if seats < 0 || seats > reserved {
		t.ledger.log.Error("ledger underflow",
			zap.String("journey_id", journeyID),
			zap.Int("release", seats),
			zap.Int("reserved", reserved),
		)
		return domain.InternalError{
			Msg: fmt.Sprintf("release of %d seats exceeds %d reserved on journey %s", seats, reserved, journeyID),
			Err: domain.ErrInvariantViolation,
		}
	}
	t.deltas[journeyID] -= seats
	return nil
}

// SetTotal stages a capacity change (admin journey edit).
func (t *Tx) SetTotal(journeyID string, total int) error {
	if _, err := t.entry(journeyID); err != nil {
		return err
	}
	t.totals[journeyID] = total
	return nil
}

// Drop stages removal of the entry (journey deleted).
func (t *Tx) Drop(journeyID string) error {
	if _, err := t.entry(journeyID); err != nil {
		return err
	}
	t.drops[journeyID] = true
	return nil
}

func dedupSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
