// Package memory provides an in-process implementation of the catalog, timetable and ledger
// stores, used by the offline CLI and by tests.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/timetable-api/internal/catalog"
	"github.com/noah-isme/timetable-api/internal/models"
	"github.com/noah-isme/timetable-api/internal/repository"
)

type timetableID struct {
	key   models.TimetableKey
	batch int
}

// Store keeps a catalog, the generated timetables and the versioned ledger in memory.
type Store struct {
	mu         sync.RWMutex
	catalog    models.Catalog
	timetables map[timetableID]models.Timetable
	ledger     *models.LedgerSnapshot

	// FailCommit, when set, is returned by the next Commit instead of writing.
	FailCommit error
}

// NewStore builds a store serving cat. A nil catalog is treated as empty.
func NewStore(cat *models.Catalog) *Store {
	s := &Store{
		timetables: make(map[timetableID]models.Timetable),
		ledger:     &models.LedgerSnapshot{},
	}
	if cat != nil {
		s.catalog = *cat
	}
	return s
}

// ListByKey returns the offerings of key.
func (s *Store) ListByKey(_ context.Context, key models.TimetableKey) ([]models.Offering, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return catalog.OfferingsFor(s.catalog.Offerings, key), nil
}

// ListAll returns every offering.
func (s *Store) ListAll(context.Context) ([]models.Offering, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Offering(nil), s.catalog.Offerings...), nil
}

// ListRooms returns every room.
func (s *Store) ListRooms(context.Context) ([]models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Room(nil), s.catalog.Rooms...), nil
}

// ListLabs returns every lab.
func (s *Store) ListLabs(context.Context) ([]models.Lab, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Lab(nil), s.catalog.Labs...), nil
}

// Find returns the batch strength for (year, specialization) or sql.ErrNoRows.
func (s *Store) Find(_ context.Context, year int, specialization string) (*models.BatchStrength, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	strength, ok := catalog.StrengthFor(s.catalog.Strengths, year, specialization)
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &strength, nil
}

// Load returns a copy of the stored ledger.
func (s *Store) Load(context.Context) (*models.LedgerSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.Clone(), nil
}

// RestoreLedger replaces the stored ledger, version included, with a copy of snapshot.
func (s *Store) RestoreLedger(snapshot *models.LedgerSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snapshot == nil {
		snapshot = &models.LedgerSnapshot{}
	}
	s.ledger = snapshot.Clone()
}

// Timetables exposes the timetable reads under names that do not clash with the catalog reads.
func (s *Store) Timetables() *TimetableView {
	return &TimetableView{store: s}
}

// Commit stores timetables, drops batches of the same key beyond the new batch count and stores the
// ledger, atomically and only when the ledger version still matches.
func (s *Store) Commit(_ context.Context, timetables []models.Timetable, snapshot *models.LedgerSnapshot, expected int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCommit != nil {
		err := s.FailCommit
		s.FailCommit = nil
		return err
	}
	if s.ledger.Version != expected {
		return repository.ErrVersionConflict
	}
	now := time.Now().UTC()
	for i := range timetables {
		tt := &timetables[i]
		id := timetableID{key: tt.Key(), batch: tt.Batch}
		if existing, ok := s.timetables[id]; ok {
			tt.ID = existing.ID
		} else if tt.ID == "" {
			tt.ID = uuid.NewString()
		}
		if tt.GeneratedAt.IsZero() {
			tt.GeneratedAt = now
		}
		tt.UpdatedAt = now
		s.timetables[id] = cloneTimetable(*tt)
	}
	if len(timetables) > 0 {
		key := timetables[0].Key()
		for id := range s.timetables {
			if id.key == key && id.batch > len(timetables) {
				delete(s.timetables, id)
			}
		}
	}
	s.saveLedger(snapshot, expected, now)
	return nil
}

// Remove deletes a key's timetables and stores the released ledger.
func (s *Store) Remove(_ context.Context, key models.TimetableKey, snapshot *models.LedgerSnapshot, expected int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ledger.Version != expected {
		return 0, repository.ErrVersionConflict
	}
	var deleted int64
	for id := range s.timetables {
		if id.key == key {
			delete(s.timetables, id)
			deleted++
		}
	}
	s.saveLedger(snapshot, expected, time.Now().UTC())
	return deleted, nil
}

// SaveLedger stores snapshot when the version matches.
func (s *Store) SaveLedger(_ context.Context, snapshot *models.LedgerSnapshot, expected int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ledger.Version != expected {
		return repository.ErrVersionConflict
	}
	s.saveLedger(snapshot, expected, time.Now().UTC())
	return nil
}

func (s *Store) saveLedger(snapshot *models.LedgerSnapshot, expected int64, now time.Time) {
	snapshot.Version = expected + 1
	snapshot.UpdatedAt = now
	s.ledger = snapshot.Clone()
}

// Count returns the number of stored timetables.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.timetables)
}

// TimetableView reads stored timetables.
type TimetableView struct {
	store *Store
}

// ListByKey returns a key's timetables ordered by batch.
func (v *TimetableView) ListByKey(_ context.Context, key models.TimetableKey) ([]models.Timetable, error) {
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	var out []models.Timetable
	for id, tt := range v.store.timetables {
		if id.key == key {
			out = append(out, cloneTimetable(tt))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Batch < out[j].Batch })
	return out, nil
}

// Find returns one batch's timetable or sql.ErrNoRows.
func (v *TimetableView) Find(_ context.Context, key models.TimetableKey, batch int) (*models.Timetable, error) {
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	tt, ok := v.store.timetables[timetableID{key: key, batch: batch}]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := cloneTimetable(tt)
	return &out, nil
}

// cloneTimetable copies the grid's sessions so callers cannot mutate stored state.
func cloneTimetable(tt models.Timetable) models.Timetable {
	out := tt
	for day := range tt.Grid {
		for slot, session := range tt.Grid[day] {
			if session != nil {
				copied := *session
				out.Grid[day][slot] = &copied
			}
		}
	}
	return out
}

// String summarises the store for logs.
func (s *Store) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("memory store: %d timetables, ledger v%d", len(s.timetables), s.ledger.Version)
}
