package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/dto"
	"github.com/noah-isme/timetable-api/internal/models"
	"github.com/noah-isme/timetable-api/internal/repository"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
	"github.com/noah-isme/timetable-api/pkg/export"
)

// Export formats understood by TimetableService.Export.
const (
	FormatCSV = "csv"
	FormatPDF = "pdf"
)

type datasetRenderer interface {
	Render(datasets ...export.Dataset) ([]byte, error)
}

// TimetableServiceConfig tunes the query service.
type TimetableServiceConfig struct {
	CacheTTL time.Duration
	LockTTL  time.Duration
	LockWait time.Duration
}

// TimetableService serves stored timetables and the occupancy ledger.
type TimetableService struct {
	timetables timetableReader
	ledger     ledgerReader
	store      generationWriter
	lock       LedgerLock
	cache      *CacheService
	csv        datasetRenderer
	pdf        datasetRenderer
	validator  *validator.Validate
	logger     *zap.Logger
	cfg        TimetableServiceConfig
}

// NewTimetableService constructs the query service. A nil lock serialises writers in process.
func NewTimetableService(timetables timetableReader, ledger ledgerReader, store generationWriter, lock LedgerLock, cache *CacheService, logger *zap.Logger, cfg TimetableServiceConfig) *TimetableService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lock == nil {
		lock = repository.NewLocalLedgerLock()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = cfg.LockTTL
	}
	return &TimetableService{
		timetables: timetables,
		ledger:     ledger,
		store:      store,
		lock:       lock,
		cache:      cache,
		csv:        export.NewCSVExporter(),
		pdf:        export.NewPDFExporter(),
		validator:  validator.New(),
		logger:     logger,
		cfg:        cfg,
	}
}

// List returns every batch timetable of a key ordered by batch.
func (s *TimetableService) List(ctx context.Context, query dto.TimetableQuery) ([]models.Timetable, error) {
	key, err := s.key(query)
	if err != nil {
		return nil, err
	}
	cacheKey := TimetableListCacheKey(key)
	var cached []models.Timetable
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return cached, nil
	}

	timetables, err := s.timetables.ListByKey(ctx, key)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list timetables")
	}
	if timetables == nil {
		timetables = []models.Timetable{}
	}
	_ = s.cache.Set(ctx, cacheKey, timetables, s.cfg.CacheTTL)
	return timetables, nil
}

// Get returns one batch's timetable.
func (s *TimetableService) Get(ctx context.Context, query dto.TimetableQuery, batch int) (*models.Timetable, error) {
	key, err := s.key(query)
	if err != nil {
		return nil, err
	}
	if batch <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "batch must be positive")
	}
	cacheKey := TimetableBatchCacheKey(key, batch)
	var cached models.Timetable
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return &cached, nil
	}

	timetable, err := s.timetables.Find(ctx, key, batch)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("timetable %s batch %d not found", key, batch))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable")
	}
	_ = s.cache.Set(ctx, cacheKey, timetable, s.cfg.CacheTTL)
	return timetable, nil
}

// Delete removes every batch of a key and releases the ledger entries they held.
func (s *TimetableService) Delete(ctx context.Context, query dto.TimetableQuery) (*dto.DeleteTimetablesResponse, error) {
	key, err := s.key(query)
	if err != nil {
		return nil, err
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.release(release)

	timetables, err := s.timetables.ListByKey(ctx, key)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list timetables")
	}
	if len(timetables) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no timetables stored for %s", key))
	}
	snapshot, err := s.ledger.Load(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load occupancy ledger")
	}
	expected := snapshot.Version
	released := snapshot.Release(timetables)

	deleted, err := s.store.Remove(ctx, key, snapshot, expected)
	if err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, appErrors.Clone(appErrors.ErrLedgerConflict, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete timetables")
	}
	if err := s.cache.Invalidate(ctx, TimetableCachePattern(key)); err != nil {
		s.logger.Warn("timetable cache invalidation failed", zap.String("key", key.String()), zap.Error(err))
	}
	s.logger.Info("timetables deleted",
		zap.String("key", key.String()),
		zap.Int64("deleted", deleted),
		zap.Int("released", released),
		zap.Int64("ledger_version", snapshot.Version),
	)
	return &dto.DeleteTimetablesResponse{Deleted: deleted, Released: released, LedgerVersion: snapshot.Version}, nil
}

// Export renders a batch, or every batch when batch is 0, as CSV or PDF.
func (s *TimetableService) Export(ctx context.Context, query dto.TimetableQuery, batch int, format string) (*dto.ExportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	var timetables []models.Timetable
	if batch > 0 {
		timetable, err := s.Get(ctx, query, batch)
		if err != nil {
			return nil, err
		}
		timetables = []models.Timetable{*timetable}
	} else {
		list, err := s.List(ctx, query)
		if err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no timetables stored for %s", query.Key()))
		}
		timetables = list
	}

	datasets := make([]export.Dataset, 0, len(timetables))
	for _, timetable := range timetables {
		datasets = append(datasets, TimetableDataset(timetable))
	}

	file := &dto.ExportFile{Filename: exportFilename(query.Key(), batch, format)}
	var err error
	switch format {
	case FormatPDF:
		file.ContentType = "application/pdf"
		file.Body, err = s.pdf.Render(datasets...)
	default:
		file.ContentType = "text/csv"
		file.Body, err = s.csv.Render(datasets...)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return file, nil
}

// Ledger returns the current occupancy ledger.
func (s *TimetableService) Ledger(ctx context.Context) (*dto.LedgerResponse, error) {
	snapshot, err := s.ledger.Load(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load occupancy ledger")
	}
	return ledgerResponse(snapshot), nil
}

// ResetLedger clears every booking in both ledgers. Stored timetables are left as they are.
func (s *TimetableService) ResetLedger(ctx context.Context) (*dto.LedgerResponse, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.release(release)

	current, err := s.ledger.Load(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load occupancy ledger")
	}
	cleared := &models.LedgerSnapshot{}
	if err := s.store.SaveLedger(ctx, cleared, current.Version); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, appErrors.Clone(appErrors.ErrLedgerConflict, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset occupancy ledger")
	}
	s.logger.Info("occupancy ledger reset", zap.Int64("ledger_version", cleared.Version))
	return ledgerResponse(cleared), nil
}

func (s *TimetableService) key(query dto.TimetableQuery) (models.TimetableKey, error) {
	query.Specialization = strings.TrimSpace(query.Specialization)
	if err := s.validator.Struct(query); err != nil {
		return models.TimetableKey{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid timetable query")
	}
	return query.Key(), nil
}

func (s *TimetableService) acquire(ctx context.Context) (repository.ReleaseFunc, error) {
	release, err := s.lock.Acquire(ctx, s.cfg.LockTTL, s.cfg.LockWait)
	if err != nil {
		if errors.Is(err, repository.ErrLockHeld) {
			return nil, appErrors.Clone(appErrors.ErrLedgerLocked, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acquire ledger lock")
	}
	return release, nil
}

func (s *TimetableService) release(release repository.ReleaseFunc) {
	if err := release(context.Background()); err != nil {
		s.logger.Warn("ledger lock release failed", zap.Error(err))
	}
}

func ledgerResponse(snapshot *models.LedgerSnapshot) *dto.LedgerResponse {
	return &dto.LedgerResponse{
		Version:     snapshot.Version,
		Instructors: snapshot.Instructors,
		Rooms:       snapshot.Rooms,
		Labs:        snapshot.Labs,
		Entries: dto.LedgerEntryCount{
			Instructors: snapshot.Instructors.Len(),
			Rooms:       snapshot.Rooms.Len(),
			Labs:        snapshot.Labs.Len(),
		},
		UpdatedAt: snapshot.UpdatedAt,
	}
}

// TimetableDataset lays a timetable out with one row per day and one column per slot.
func TimetableDataset(timetable models.Timetable) export.Dataset {
	headers := make([]string, 0, models.SlotsPerDay+1)
	headers = append(headers, "Day")
	headers = append(headers, models.SlotLabels[:]...)

	rows := make([]map[string]string, 0, models.DaysPerWeek)
	for day := 0; day < models.DaysPerWeek; day++ {
		row := map[string]string{"Day": models.DayNames[day]}
		for slot := 0; slot < models.SlotsPerDay; slot++ {
			row[models.SlotLabels[slot]] = cellText(timetable.Grid.At(day, slot), slot)
		}
		rows = append(rows, row)
	}

	title := fmt.Sprintf("Year %d Semester %d Batch %d", timetable.Year, timetable.Semester, timetable.Batch)
	if timetable.Specialization != "" {
		title += " (" + timetable.Specialization + ")"
	}
	title += fmt.Sprintf(" | %d students", timetable.BatchStrength)
	return export.Dataset{Title: title, Headers: headers, Rows: rows}
}

func cellText(session *models.Session, slot int) string {
	if session == nil {
		if slot == models.LunchSlot {
			return "Lunch"
		}
		return ""
	}
	if session.IsOffice() {
		return session.Subject
	}
	parts := []string{fmt.Sprintf("%s (%s)", session.Subject, session.Type)}
	if session.Instructor != "" {
		parts = append(parts, session.Instructor)
	}
	if resource := session.Resource(); resource != "" {
		parts = append(parts, resource)
	}
	return strings.Join(parts, "\n")
}

func exportFilename(key models.TimetableKey, batch int, format string) string {
	name := fmt.Sprintf("timetable-y%d-s%d", key.Year, key.Semester)
	if key.Specialization != "" {
		name += "-" + strings.ToLower(strings.ReplaceAll(key.Specialization, " ", "_"))
	}
	if batch > 0 {
		name += fmt.Sprintf("-b%d", batch)
	}
	return name + "." + format
}
