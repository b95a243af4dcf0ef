package service

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/dto"
	"github.com/noah-isme/timetable-api/internal/models"
	"github.com/noah-isme/timetable-api/internal/repository"
	"github.com/noah-isme/timetable-api/internal/scheduler"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
	"github.com/noah-isme/timetable-api/pkg/logger"
	"github.com/noah-isme/timetable-api/pkg/middleware/requestid"
)

type offeringReader interface {
	ListByKey(ctx context.Context, key models.TimetableKey) ([]models.Offering, error)
	ListAll(ctx context.Context) ([]models.Offering, error)
}

type resourceReader interface {
	ListRooms(ctx context.Context) ([]models.Room, error)
	ListLabs(ctx context.Context) ([]models.Lab, error)
}

type strengthReader interface {
	Find(ctx context.Context, year int, specialization string) (*models.BatchStrength, error)
}

type ledgerReader interface {
	Load(ctx context.Context) (*models.LedgerSnapshot, error)
}

type timetableReader interface {
	ListByKey(ctx context.Context, key models.TimetableKey) ([]models.Timetable, error)
	Find(ctx context.Context, key models.TimetableKey, batch int) (*models.Timetable, error)
}

// generationWriter persists timetables and the ledger together, rejecting stale ledger versions with
// repository.ErrVersionConflict.
type generationWriter interface {
	Commit(ctx context.Context, timetables []models.Timetable, snapshot *models.LedgerSnapshot, expected int64) error
	Remove(ctx context.Context, key models.TimetableKey, snapshot *models.LedgerSnapshot, expected int64) (int64, error)
	SaveLedger(ctx context.Context, snapshot *models.LedgerSnapshot, expected int64) error
}

// LedgerLock serialises writers of the occupancy ledger.
type LedgerLock interface {
	Acquire(ctx context.Context, ttl, wait time.Duration) (repository.ReleaseFunc, error)
}

// TimetableGeneratorConfig tunes generation runs.
type TimetableGeneratorConfig struct {
	Strategy        string
	RetryBudget     int
	Seed            int64
	TrackMultiBatch bool
	ReleasePrevious bool
	MaxAttempts     int
	LockTTL         time.Duration
	LockWait        time.Duration
}

// TimetableGeneratorService runs the generate transaction: lock the ledger, load the catalog, place
// and allocate every batch, then commit timetables and ledger together.
type TimetableGeneratorService struct {
	offerings  offeringReader
	resources  resourceReader
	strengths  strengthReader
	ledger     ledgerReader
	timetables timetableReader
	store      generationWriter
	lock       LedgerLock
	cache      *CacheService
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	cfg        TimetableGeneratorConfig
}

// TimetableGeneratorDeps groups the collaborators of the generator.
type TimetableGeneratorDeps struct {
	Offerings  offeringReader
	Resources  resourceReader
	Strengths  strengthReader
	Ledger     ledgerReader
	Timetables timetableReader
	Store      generationWriter
	Lock       LedgerLock
	Cache      *CacheService
	Metrics    *MetricsService
	Validator  *validator.Validate
	Logger     *zap.Logger
}

// NewTimetableGeneratorService constructs the generator.
func NewTimetableGeneratorService(deps TimetableGeneratorDeps, cfg TimetableGeneratorConfig) *TimetableGeneratorService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Lock == nil {
		deps.Lock = repository.NewLocalLedgerLock()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = cfg.LockTTL
	}
	return &TimetableGeneratorService{
		offerings:  deps.Offerings,
		resources:  deps.Resources,
		strengths:  deps.Strengths,
		ledger:     deps.Ledger,
		timetables: deps.Timetables,
		store:      deps.Store,
		lock:       deps.Lock,
		cache:      deps.Cache,
		metrics:    deps.Metrics,
		validator:  deps.Validator,
		logger:     deps.Logger,
		cfg:        cfg,
	}
}

type generationInputs struct {
	offerings []models.Offering
	catalog   []models.Offering
	rooms     []models.Room
	labs      []models.Lab
	strength  models.BatchStrength
}

// releasable picks the stored timetables whose ledger entries the new run gives back: every batch
// when ReleasePrevious is set, otherwise only batches the new run no longer produces.
func (s *TimetableGeneratorService) releasable(previous []models.Timetable, batches int) []models.Timetable {
	if s.cfg.ReleasePrevious {
		return previous
	}
	stale := make([]models.Timetable, 0, len(previous))
	for _, tt := range previous {
		if tt.Batch > batches {
			stale = append(stale, tt)
		}
	}
	return stale
}

// Generate builds and commits the timetables of every batch of the requested key. Failures before the
// commit leave the timetable store and the ledger untouched.
func (s *TimetableGeneratorService) Generate(ctx context.Context, req dto.GenerateTimetableRequest) (*dto.GenerateTimetableResponse, error) {
	req.Specialization = strings.TrimSpace(req.Specialization)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid generation request")
	}
	key := req.Key()
	fields := logger.TimetableKey(key.Year, key.Semester, key.Specialization)
	if id := requestid.FromContext(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	start := time.Now()

	release, err := s.lock.Acquire(ctx, s.cfg.LockTTL, s.cfg.LockWait)
	if err != nil {
		if errors.Is(err, repository.ErrLockHeld) {
			s.metrics.ObserveGeneration(GenerationLocked, time.Since(start), dto.GenerationStats{})
			return nil, appErrors.Clone(appErrors.ErrLedgerLocked, "")
		}
		s.metrics.ObserveGeneration(GenerationFailed, time.Since(start), dto.GenerationStats{})
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acquire ledger lock")
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			s.logger.Warn("ledger lock release failed", append(fields, zap.Error(err))...)
		}
	}()

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		resp, err := s.attempt(ctx, req, key, attempt)
		if err == nil {
			resp.Stats.DurationMs = time.Since(start).Milliseconds()
			s.metrics.ObserveGeneration(GenerationSucceeded, time.Since(start), resp.Stats)
			s.invalidate(ctx, key)
			s.logger.Info("timetables generated", append(fields,
				zap.Int("batches", resp.Stats.Batches),
				zap.Int("warnings", len(resp.Warnings)),
				zap.Int("attempts", attempt),
				zap.Int64("ledger_version", resp.Stats.LedgerVersion),
				zap.Int64("seed", resp.Stats.Seed),
			)...)
			return resp, nil
		}
		if errors.Is(err, repository.ErrVersionConflict) {
			s.metrics.RecordLedgerConflict()
			s.logger.Warn("ledger version conflict, retrying generation", append(fields, zap.Int("attempt", attempt))...)
			continue
		}
		s.metrics.ObserveGeneration(GenerationFailed, time.Since(start), dto.GenerationStats{})
		return nil, err
	}

	s.metrics.ObserveGeneration(GenerationConflict, time.Since(start), dto.GenerationStats{})
	s.logger.Error("generation gave up after ledger conflicts", append(fields, zap.Int("attempts", s.cfg.MaxAttempts))...)
	return nil, appErrors.Clone(appErrors.ErrLedgerConflict, "")
}

func (s *TimetableGeneratorService) attempt(ctx context.Context, req dto.GenerateTimetableRequest, key models.TimetableKey, attempt int) (*dto.GenerateTimetableResponse, error) {
	inputs, err := s.loadInputs(ctx, key)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.ledger.Load(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load occupancy ledger")
	}
	expected := snapshot.Version

	if s.timetables != nil {
		previous, err := s.timetables.ListByKey(ctx, key)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load previous timetables")
		}
		if released := snapshot.Release(s.releasable(previous, inputs.strength.Batches())); released > 0 {
			s.logger.Debug("released previous ledger entries", zap.Int("released", released))
		}
	}

	strategy := s.cfg.Strategy
	if req.Strategy != "" {
		strategy = req.Strategy
	}
	seed := s.cfg.Seed
	if req.Seed != 0 {
		seed = req.Seed
	}

	result := scheduler.Run(scheduler.Input{
		Key:       key,
		Offerings: inputs.offerings,
		Catalog:   inputs.catalog,
		Rooms:     inputs.rooms,
		Labs:      inputs.labs,
		Strength:  inputs.strength,
		Ledger:    snapshot,
	}, scheduler.Options{
		Strategy:        strategy,
		RetryBudget:     s.cfg.RetryBudget,
		Seed:            seed,
		TrackMultiBatch: s.cfg.TrackMultiBatch,
		Logger:          s.logger,
	})

	if err := s.store.Commit(ctx, result.Timetables, snapshot, expected); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit timetables")
	}

	counts := scheduler.CountIssues(result.Issues)
	warnings := result.Issues
	if warnings == nil {
		warnings = []scheduler.Issue{}
	}
	return &dto.GenerateTimetableResponse{
		Key:        key,
		Timetables: result.Timetables,
		Warnings:   warnings,
		Stats: dto.GenerationStats{
			Batches:            len(result.Timetables),
			UnplacedOfferings:  counts[scheduler.IssueUnplacedOffering],
			UnassignedSessions: counts[scheduler.IssueUnassignedResource],
			EmptyDays:          counts[scheduler.IssueEmptyDay],
			UnderfilledDays:    counts[scheduler.IssueUnderfilledDay],
			TrackedPairs:       result.Tracked,
			Attempts:           attempt,
			LedgerVersion:      snapshot.Version,
			Seed:               result.Seed,
		},
	}, nil
}

func (s *TimetableGeneratorService) loadInputs(ctx context.Context, key models.TimetableKey) (*generationInputs, error) {
	offerings, err := s.offerings.ListByKey(ctx, key)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject offerings")
	}
	if len(offerings) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNoOfferings, "no subject offerings for "+key.String())
	}
	all, err := s.offerings.ListAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load offering catalog")
	}
	rooms, err := s.resources.ListRooms(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rooms")
	}
	if len(rooms) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNoRooms, "")
	}
	labs, err := s.resources.ListLabs(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load labs")
	}
	strength, err := s.strengths.Find(ctx, key.Year, key.Specialization)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNoBatchStrength, "no batch strength for year "+strconv.Itoa(key.Year))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch strength")
	}
	return &generationInputs{
		offerings: offerings,
		catalog:   all,
		rooms:     rooms,
		labs:      labs,
		strength:  *strength,
	}, nil
}

func (s *TimetableGeneratorService) invalidate(ctx context.Context, key models.TimetableKey) {
	if err := s.cache.Invalidate(ctx, TimetableCachePattern(key)); err != nil {
		s.logger.Warn("timetable cache invalidation failed", zap.String("key", key.String()), zap.Error(err))
	}
}
