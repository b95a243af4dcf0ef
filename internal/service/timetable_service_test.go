package service

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-api/internal/dto"
	"github.com/noah-isme/timetable-api/internal/models"
	"github.com/noah-isme/timetable-api/internal/repository/memory"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
)

type timetableFixture struct {
	store *memory.Store
	cache *mapCache
	svc   *TimetableService
	gen   *TimetableGeneratorService
}

func newTimetableFixture(t *testing.T) timetableFixture {
	t.Helper()
	store := memory.NewStore(fixtureCatalog())
	repo := newMapCache()
	cache := NewCacheService(repo, nil, 0, nil, true)
	gen := fixtureGenerator(store, nil, nil, cache, TimetableGeneratorConfig{Seed: 13, TrackMultiBatch: true})
	svc := NewTimetableService(store.Timetables(), store, store, nil, cache, nil, TimetableServiceConfig{})
	return timetableFixture{store: store, cache: repo, svc: svc, gen: gen}
}

func (f timetableFixture) generate(t *testing.T, req dto.GenerateTimetableRequest) *dto.GenerateTimetableResponse {
	t.Helper()
	resp, err := f.gen.Generate(context.Background(), req)
	require.NoError(t, err)
	return resp
}

func TestTimetableServiceListAndGet(t *testing.T) {
	f := newTimetableFixture(t)
	ctx := context.Background()
	f.generate(t, dto.GenerateTimetableRequest{Year: 3, Semester: 5, Specialization: "AI"})

	query := dto.TimetableQuery{Year: 3, Semester: 5, Specialization: "AI"}
	list, err := f.svc.List(ctx, query)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 1, list[0].Batch)
	assert.Equal(t, 2, list[1].Batch)

	cached, err := f.svc.List(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, list[1].ID, cached[1].ID)
	assert.Equal(t, list[1].Grid, cached[1].Grid)

	tt, err := f.svc.Get(ctx, query, 2)
	require.NoError(t, err)
	assert.Equal(t, list[1].ID, tt.ID)

	_, err = f.svc.Get(ctx, query, 7)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = f.svc.Get(ctx, query, 0)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	empty, err := f.svc.List(ctx, dto.TimetableQuery{Year: 1, Semester: 1})
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NotNil(t, empty)
}

func TestTimetableServiceListRejectsInvalidQuery(t *testing.T) {
	f := newTimetableFixture(t)

	_, err := f.svc.List(context.Background(), dto.TimetableQuery{Year: 0, Semester: 5})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestTimetableServiceDeleteReleasesLedger(t *testing.T) {
	f := newTimetableFixture(t)
	ctx := context.Background()
	f.generate(t, dto.GenerateTimetableRequest{Year: 3, Semester: 5})

	before, err := f.store.Load(ctx)
	require.NoError(t, err)
	require.Positive(t, before.Rooms.Len())

	resp, err := f.svc.Delete(ctx, dto.TimetableQuery{Year: 3, Semester: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.Deleted)
	assert.Positive(t, resp.Released)
	assert.Equal(t, int64(2), resp.LedgerVersion)

	after, err := f.store.Load(ctx)
	require.NoError(t, err)
	assert.Zero(t, after.Rooms.Len())
	assert.Zero(t, after.Labs.Len())
	assert.Zero(t, after.Instructors.Len())
	assert.Zero(t, f.store.Count())

	_, err = f.svc.Delete(ctx, dto.TimetableQuery{Year: 3, Semester: 5})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestTimetableServiceDeleteKeepsOtherKeys(t *testing.T) {
	f := newTimetableFixture(t)
	ctx := context.Background()
	f.generate(t, dto.GenerateTimetableRequest{Year: 3, Semester: 5})
	ai := f.generate(t, dto.GenerateTimetableRequest{Year: 3, Semester: 5, Specialization: "AI"})

	_, err := f.svc.Delete(ctx, dto.TimetableQuery{Year: 3, Semester: 5})
	require.NoError(t, err)

	ledger, err := f.store.Load(ctx)
	require.NoError(t, err)
	for _, tt := range ai.Timetables {
		for day := 0; day < models.DaysPerWeek; day++ {
			for slot := 0; slot < models.SlotsPerDay; slot++ {
				s := tt.Grid.At(day, slot)
				if s != nil && s.Room != "" {
					assert.True(t, ledger.Rooms.Has(day, slot, s.Room), "AI booking of %s released", s.Room)
				}
			}
		}
	}
	assert.Equal(t, 2, f.store.Count())
}

func TestTimetableServiceExport(t *testing.T) {
	f := newTimetableFixture(t)
	ctx := context.Background()
	f.generate(t, dto.GenerateTimetableRequest{Year: 3, Semester: 5, Specialization: "AI"})
	query := dto.TimetableQuery{Year: 3, Semester: 5, Specialization: "AI"}

	csvFile, err := f.svc.Export(ctx, query, 1, "CSV")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", csvFile.ContentType)
	assert.Equal(t, "timetable-y3-s5-ai-b1.csv", csvFile.Filename)
	body := string(csvFile.Body)
	assert.Contains(t, body, "Year 3 Semester 5 Batch 1 (AI)")
	assert.Contains(t, body, "Monday")
	assert.Contains(t, body, "Lunch")

	all, err := f.svc.Export(ctx, query, 0, "csv")
	require.NoError(t, err)
	assert.Contains(t, string(all.Body), "Batch 2")
	assert.Equal(t, "timetable-y3-s5-ai.csv", all.Filename)

	pdfFile, err := f.svc.Export(ctx, query, 2, "pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", pdfFile.ContentType)
	assert.True(t, bytes.HasPrefix(pdfFile.Body, []byte("%PDF")))

	_, err = f.svc.Export(ctx, query, 1, "xlsx")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.Export(ctx, dto.TimetableQuery{Year: 2, Semester: 1}, 0, "csv")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestTimetableServiceLedgerAndReset(t *testing.T) {
	f := newTimetableFixture(t)
	ctx := context.Background()
	f.generate(t, dto.GenerateTimetableRequest{Year: 3, Semester: 5})

	view, err := f.svc.Ledger(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), view.Version)
	assert.Positive(t, view.Entries.Rooms)

	reset, err := f.svc.ResetLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reset.Version)
	assert.Zero(t, reset.Entries.Rooms)
	assert.Zero(t, reset.Entries.Labs)

	assert.Equal(t, 1, f.store.Count(), "reset leaves stored timetables alone")
}

func TestTimetableServiceLockedWrites(t *testing.T) {
	store := memory.NewStore(fixtureCatalog())
	svc := NewTimetableService(store.Timetables(), store, store, heldLock{}, nil, nil, TimetableServiceConfig{})

	_, err := svc.ResetLedger(context.Background())
	assert.ErrorIs(t, err, appErrors.ErrLedgerLocked)
	_, err = svc.Delete(context.Background(), dto.TimetableQuery{Year: 3, Semester: 5})
	assert.ErrorIs(t, err, appErrors.ErrLedgerLocked)
}

func TestTimetableDatasetLayout(t *testing.T) {
	var grid models.WeeklyGrid
	grid[0][0] = &models.Session{Subject: "Compilers", Type: models.SessionTheory, Instructor: "Dr. Rao", Room: "R101"}
	grid[0][3] = &models.Session{Subject: "Networks Lab", Type: models.SessionLab, Instructor: "Dr. Iyer", Lab: "L1"}
	grid[1][1] = models.OfficeHour()

	dataset := TimetableDataset(models.Timetable{Year: 3, Semester: 5, Batch: 1, BatchStrength: 40, Grid: grid})

	assert.Equal(t, "Year 3 Semester 5 Batch 1 | 40 students", dataset.Title)
	require.Len(t, dataset.Headers, models.SlotsPerDay+1)
	require.Len(t, dataset.Rows, models.DaysPerWeek)

	monday := dataset.Rows[0]
	assert.Equal(t, "Monday", monday["Day"])
	assert.Equal(t, "Compilers (Theory)\nDr. Rao\nR101", monday[models.SlotLabels[0]])
	assert.Equal(t, "Lunch", monday[models.SlotLabels[models.LunchSlot]])
	assert.True(t, strings.HasSuffix(monday[models.SlotLabels[3]], "L1"))
	assert.Equal(t, "Office Hour", dataset.Rows[1][models.SlotLabels[1]])
	assert.Equal(t, "", dataset.Rows[4][models.SlotLabels[6]])
}
