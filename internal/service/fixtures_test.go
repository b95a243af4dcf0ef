package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/timetable-api/internal/models"
	"github.com/noah-isme/timetable-api/internal/repository"
	"github.com/noah-isme/timetable-api/internal/repository/memory"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
)

func fixtureCatalog() *models.Catalog {
	offer := func(id, subject string, typ models.SessionType, instructor string, year, semester int, spec string) models.Offering {
		return models.Offering{ID: id, Subject: subject, Type: typ, Instructor: instructor, Year: year, Semester: semester, Specialization: spec}
	}
	return &models.Catalog{
		Offerings: []models.Offering{
			offer("o1", "Compilers", models.SessionTheory, "Dr. Rao", 3, 5, ""),
			offer("o2", "Networks", models.SessionTheory, "Dr. Iyer", 3, 5, ""),
			offer("o3", "Databases", models.SessionTheory, "Dr. Shared", 3, 5, ""),
			offer("o4", "Networks Lab", models.SessionLab, "Dr. Iyer", 3, 5, ""),
			offer("o5", "Compilers Tutorial", models.SessionTutorial, "Dr. Rao", 3, 5, ""),
			offer("o6", "Machine Learning", models.SessionTheory, "Dr. Shared", 3, 5, "AI"),
			offer("o7", "Vision", models.SessionTheory, "Dr. Mehta", 3, 5, "AI"),
		},
		Rooms: []models.Room{{Number: "R101", Capacity: 60}, {Number: "R102", Capacity: 60}},
		Labs:  []models.Lab{{Number: "L1", Capacity: 60}},
		Strengths: []models.BatchStrength{
			{Year: 3, Sections: 1, TotalStudents: 40},
			{Year: 3, Specialization: "AI", Sections: 2, TotalStudents: 61},
		},
	}
}

// fixtureGenerator wires a generator against an in-memory store.
func fixtureGenerator(store *memory.Store, writer generationWriter, lock LedgerLock, cache *CacheService, cfg TimetableGeneratorConfig) *TimetableGeneratorService {
	if writer == nil {
		writer = store
	}
	return NewTimetableGeneratorService(TimetableGeneratorDeps{
		Offerings:  store,
		Resources:  store,
		Strengths:  store,
		Ledger:     store,
		Timetables: store.Timetables(),
		Store:      writer,
		Lock:       lock,
		Cache:      cache,
	}, cfg)
}

// conflictingWriter rejects the first failures commits with a version conflict.
type conflictingWriter struct {
	*memory.Store
	failures int
	calls    int
}

func (w *conflictingWriter) Commit(ctx context.Context, timetables []models.Timetable, snapshot *models.LedgerSnapshot, expected int64) error {
	w.calls++
	if w.calls <= w.failures {
		return repository.ErrVersionConflict
	}
	return w.Store.Commit(ctx, timetables, snapshot, expected)
}

type heldLock struct{}

func (heldLock) Acquire(context.Context, time.Duration, time.Duration) (repository.ReleaseFunc, error) {
	return nil, repository.ErrLockHeld
}

// mapCache is a CacheRepository keeping JSON payloads in memory.
type mapCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	sets    int
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string][]byte)}
}

func (c *mapCache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(payload, dest)
}

func (c *mapCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = payload
	c.sets++
	return nil
}

func (c *mapCache) DeleteByPattern(_ context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	return nil
}

func (c *mapCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
