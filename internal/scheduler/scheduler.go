// Package scheduler places subject offerings into weekly grids and allocates rooms and labs,
// keeping the shared instructor and room/lab ledgers free of double bookings.
package scheduler

import (
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/models"
)

// Strategies accepted by NewPlacer.
const (
	StrategyRandom = "random"
	StrategyScan   = "scan"
)

// Options tunes one generation run.
type Options struct {
	Strategy        string
	RetryBudget     int
	Seed            int64
	TrackMultiBatch bool
	Logger          *zap.Logger
}

// Input is everything a run consumes. Ledger is mutated in place.
type Input struct {
	Key       models.TimetableKey
	Offerings []models.Offering
	Catalog   []models.Offering
	Rooms     []models.Room
	Labs      []models.Lab
	Strength  models.BatchStrength
	Ledger    *models.LedgerSnapshot
}

// Result holds one timetable per batch plus every degraded outcome.
type Result struct {
	Timetables []models.Timetable
	Issues     []Issue
	Tracked    int
	Seed       int64
}

// NewPlacer returns the placer for strategy, defaulting to random search.
func NewPlacer(strategy string, rng *rand.Rand, budget int) Placer {
	if strategy == StrategyScan {
		return NewScanPlacer(rng)
	}
	return NewRandomPlacer(rng, budget)
}

// Run classifies the catalog, places every batch in order and allocates resources for all of them.
func Run(in Input, opts Options) Result {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	if in.Ledger == nil {
		in.Ledger = &models.LedgerSnapshot{}
	}

	sections := in.Strength.Batches()

	tracked := Classify(in.Catalog)
	if opts.TrackMultiBatch && sections > 1 {
		tracked.Extend(in.Offerings)
	}
	coord := NewCoordinator(&in.Ledger.Instructors, tracked)
	engine := NewEngine(NewPlacer(opts.Strategy, rng, opts.RetryBudget), rng, logger)

	result := Result{Tracked: tracked.Len(), Seed: seed}
	perBatch := in.Strength.PerBatch()
	for batch := 1; batch <= sections; batch++ {
		grid, issues := engine.PlaceBatch(batch, in.Offerings, coord)
		result.Issues = append(result.Issues, issues...)
		result.Timetables = append(result.Timetables, models.Timetable{
			Year:           in.Key.Year,
			Semester:       in.Key.Semester,
			Batch:          batch,
			Specialization: in.Key.Specialization,
			TotalStudents:  in.Strength.TotalStudents,
			BatchStrength:  perBatch,
			Grid:           grid,
		})
	}

	allocator := NewAllocator(rng, logger)
	result.Issues = append(result.Issues, allocator.Allocate(result.Timetables, perBatch, in.Rooms, in.Labs, in.Ledger)...)

	logger.Debug("placement finished",
		zap.Int("batches", sections),
		zap.Int("tracked_pairs", result.Tracked),
		zap.Int("ledger_commits", coord.Commits()),
		zap.Int("issues", len(result.Issues)),
	)
	return result
}

// CountIssues tallies issues by kind.
func CountIssues(issues []Issue) map[IssueKind]int {
	counts := make(map[IssueKind]int)
	for _, issue := range issues {
		counts[issue.Kind]++
	}
	return counts
}
