// Package memory is an in-memory implementation of every citadel store.
// It is intended for tests and dev environments. Transactions run on a
// copy of the state that replaces the original only on success.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/errs"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/store"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/types"
)

type state struct {
	students     map[string]types.Identity
	faces        map[string][]byte
	fingerprints map[string][]byte
	attendance   []types.AttendanceRecord
	entries      []types.AttendanceRecord
	exits        []types.ExitRecord
	queue        []types.SyncQueueEntry
	nextID       int64
}

func (st *state) clone() *state {
	return &state{
		students:     maps.Clone(st.students),
		faces:        maps.Clone(st.faces),
		fingerprints: maps.Clone(st.fingerprints),
		attendance:   slices.Clone(st.attendance),
		entries:      slices.Clone(st.entries),
		exits:        slices.Clone(st.exits),
		queue:        slices.Clone(st.queue),
		nextID:       st.nextID,
	}
}

func (st *state) id() int64 {
	st.nextID++
	return st.nextID
}

type Store struct {
	origin store.Origin

	mu          sync.Mutex
	st          *state
	unavailable bool
	applyErr    error
}

func New(origin store.Origin) *Store {
	return &Store{
		origin: origin,
		st: &state{
			students:     make(map[string]types.Identity),
			faces:        make(map[string][]byte),
			fingerprints: make(map[string][]byte),
		},
	}
}

// Set exposes the store through every store interface.
func (s *Store) Set() store.Set {
	return store.Set{
		Origin:     s.origin,
		Identities: s,
		Templates:  s,
		Attendance: s,
		SyncQueue:  s,
		Replica:    s,
	}
}

// Stores implements store.Provider. It fails with errs.ErrConnectivity
// while the store is marked unavailable.
func (s *Store) Stores(context.Context) (store.Set, error) {
	s.mu.Lock()
	down := s.unavailable
	s.mu.Unlock()
	if down {
		return store.Set{}, fmt.Errorf("%s store: %w", s.origin, errs.ErrConnectivity)
	}
	return s.Set(), nil
}

// SetAvailable toggles simulated reachability.
func (s *Store) SetAvailable(up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = !up
}

// FailNextApply makes the next ApplyBatch fail with err without applying
// anything.
func (s *Store) FailNextApply(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyErr = err
}

// Attendance returns a copy of the combined log. Test-only helper.
func (s *Store) Attendance() []types.AttendanceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.attendance)
}

// EntryLogs returns a copy of the separate entry log. Test-only helper.
func (s *Store) EntryLogs() []types.AttendanceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.entries)
}

// ExitLogs returns a copy of the separate exit log. Test-only helper.
func (s *Store) ExitLogs() []types.ExitRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.exits)
}

// Queue returns a copy of every sync_queue entry. Test-only helper.
func (s *Store) Queue() []types.SyncQueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.queue)
}

// update runs fn against a copy of the state and keeps the copy only when
// fn succeeds.
func (s *Store) update(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.st.clone()
	if err := fn(next); err != nil {
		return err
	}
	s.st = next
	return nil
}
