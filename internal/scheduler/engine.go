package scheduler

import (
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/models"
)

const (
	// DefaultRetryBudget bounds the random search for one lab or tutorial.
	DefaultRetryBudget = 100
	// TheoryDailyCap is the maximum number of Theory lectures placed on one day.
	TheoryDailyCap = 3
	// TheoryWeeklyCap is the maximum number of Theory lectures per subject per week.
	TheoryWeeklyCap = 3
)

// IssueKind classifies a degraded-but-successful outcome.
type IssueKind string

const (
	IssueUnplacedOffering   IssueKind = "UNPLACED_OFFERING"
	IssueUnassignedResource IssueKind = "UNASSIGNED_RESOURCE"
	IssueEmptyDay           IssueKind = "EMPTY_DAY"
	IssueUnderfilledDay     IssueKind = "UNDERFILLED_DAY"
)

// Issue is reported alongside generated timetables instead of failing the run.
type Issue struct {
	Kind       IssueKind          `json:"kind"`
	Batch      int                `json:"batch"`
	Subject    string             `json:"subject,omitempty"`
	Type       models.SessionType `json:"type,omitempty"`
	Instructor string             `json:"instructor,omitempty"`
	Day        string             `json:"day,omitempty"`
	Slot       string             `json:"slot,omitempty"`
	Message    string             `json:"message"`
}

// Engine places one batch's offerings into a weekly grid.
type Engine struct {
	placer Placer
	rng    *rand.Rand
	logger *zap.Logger
}

// NewEngine builds an engine; rng drives theory and repair choices, placer drives lab and tutorial search.
func NewEngine(placer Placer, rng *rand.Rand, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{placer: placer, rng: rng, logger: logger}
}

type batchState struct {
	batch   int
	grid    models.WeeklyGrid
	coord   *Coordinator
	weekly  map[string]int
	labs    map[string]bool
	issues  []Issue
	theory  []models.Offering
	lecture [models.DaysPerWeek]int
}

// PlaceBatch fills a grid for one batch in the fixed order labs, tutorials, theory,
// day-coverage repair, gap fill. The coordinator's ledger is updated for every tracked commitment.
func (e *Engine) PlaceBatch(batch int, offerings []models.Offering, coord *Coordinator) (models.WeeklyGrid, []Issue) {
	state := &batchState{
		batch:  batch,
		coord:  coord,
		weekly: make(map[string]int),
		labs:   make(map[string]bool),
	}
	var labs, tutorials []models.Offering
	for _, offering := range offerings {
		switch offering.Type {
		case models.SessionLab:
			labs = append(labs, offering)
		case models.SessionTutorial:
			tutorials = append(tutorials, offering)
		case models.SessionTheory:
			state.theory = append(state.theory, offering)
		}
	}

	for _, offering := range labs {
		e.placeLab(state, offering)
	}
	for _, offering := range tutorials {
		e.placeTutorial(state, offering)
	}
	e.placeTheory(state)
	e.repairEmptyDays(state)
	e.fillGaps(state)
	e.reportTheory(state)

	return state.grid, state.issues
}

func (e *Engine) placeLab(state *batchState, offering models.Offering) {
	if state.labs[offering.Subject] {
		state.unplaced(offering, "lab already placed this week")
		e.logger.Warn("duplicate lab offering skipped", zap.Int("batch", state.batch), zap.String("subject", offering.Subject))
		return
	}
	slot, ok := e.placer.Place(Request{
		Width: 2,
		Fits: func(s Slot) bool {
			second := s.Start + 1
			if s.Start == models.LunchSlot || second == models.LunchSlot || second >= models.SlotsPerDay {
				return false
			}
			if !state.grid.IsEmpty(s.Day, s.Start) || !state.grid.IsEmpty(s.Day, second) {
				return false
			}
			if state.grid.HasLab(s.Day) {
				return false
			}
			return state.coord.Free(offering.Instructor, offering.Type, s.Day, s.Start, second)
		},
	})
	if !ok {
		state.unplaced(offering, "no free two-slot block within the retry budget")
		e.logger.Warn("could not place lab", zap.Int("batch", state.batch), zap.String("subject", offering.Subject))
		return
	}
	for _, cell := range []int{slot.Start, slot.Start + 1} {
		state.grid[slot.Day][cell] = sessionFor(offering)
	}
	state.coord.Commit(offering.Instructor, offering.Type, slot.Day, slot.Start, slot.Start+1)
	state.labs[offering.Subject] = true
}

func (e *Engine) placeTutorial(state *batchState, offering models.Offering) {
	slot, ok := e.placer.Place(Request{
		Width: 1,
		Fits: func(s Slot) bool {
			if s.Start == models.LunchSlot || !state.grid.IsEmpty(s.Day, s.Start) {
				return false
			}
			return state.coord.Free(offering.Instructor, offering.Type, s.Day, s.Start)
		},
	})
	if !ok {
		state.unplaced(offering, "no free slot within the retry budget")
		e.logger.Warn("could not place tutorial", zap.Int("batch", state.batch), zap.String("subject", offering.Subject))
		return
	}
	state.grid[slot.Day][slot.Start] = sessionFor(offering)
	state.coord.Commit(offering.Instructor, offering.Type, slot.Day, slot.Start)
}

func (e *Engine) placeTheory(state *batchState) {
	for day := 0; day < models.DaysPerWeek; day++ {
		for slot := 0; slot < models.SlotsPerDay; slot++ {
			if slot == models.LunchSlot || !state.grid.IsEmpty(day, slot) {
				continue
			}
			if state.lecture[day] >= TheoryDailyCap {
				state.grid[day][slot] = models.OfficeHour()
				continue
			}
			var eligible []models.Offering
			for _, offering := range state.theory {
				if state.theoryEligible(offering, day) &&
					state.coord.Free(offering.Instructor, offering.Type, day, slot-1, slot, slot+1) {
					eligible = append(eligible, offering)
				}
			}
			if len(eligible) == 0 {
				continue
			}
			state.placeTheory(eligible[e.rng.Intn(len(eligible))], day, slot)
		}
	}
}

// repairEmptyDays gives an empty day one Theory lecture. The ledger is never bypassed: a day with
// no conflict-free candidate stays empty and is reported.
func (e *Engine) repairEmptyDays(state *batchState) {
	type candidate struct {
		offering models.Offering
		slot     int
	}
	for day := 0; day < models.DaysPerWeek; day++ {
		if !state.grid.DayEmpty(day) {
			continue
		}
		var candidates []candidate
		for _, offering := range state.theory {
			if !state.theoryEligible(offering, day) {
				continue
			}
			for slot := 0; slot < models.SlotsPerDay; slot++ {
				if slot == models.LunchSlot {
					continue
				}
				if state.coord.Free(offering.Instructor, offering.Type, day, slot) {
					candidates = append(candidates, candidate{offering: offering, slot: slot})
				}
			}
		}
		if len(candidates) == 0 {
			state.issues = append(state.issues, Issue{
				Kind:    IssueEmptyDay,
				Batch:   state.batch,
				Day:     models.DayNames[day],
				Message: "no theory subject could be placed without an instructor conflict",
			})
			e.logger.Warn("day left empty", zap.Int("batch", state.batch), zap.String("day", models.DayNames[day]))
			continue
		}
		chosen := candidates[e.rng.Intn(len(candidates))]
		state.placeTheory(chosen.offering, day, chosen.slot)
	}
}

// fillGaps tops up empty post-lunch slots with the first Theory subject, in catalog order, that
// still fits. Adjacency is relaxed here; caps and the instructor ledger are not.
func (e *Engine) fillGaps(state *batchState) {
	for day := 0; day < models.DaysPerWeek; day++ {
		for slot := models.LunchSlot + 1; slot < models.SlotsPerDay; slot++ {
			if !state.grid.IsEmpty(day, slot) {
				continue
			}
			for _, offering := range state.theory {
				if state.theoryEligible(offering, day) &&
					state.coord.Free(offering.Instructor, offering.Type, day, slot) {
					state.placeTheory(offering, day, slot)
					break
				}
			}
		}
	}
}

func (e *Engine) reportTheory(state *batchState) {
	reported := make(map[string]bool)
	for _, offering := range state.theory {
		if state.weekly[offering.Subject] > 0 || reported[offering.Subject] {
			continue
		}
		reported[offering.Subject] = true
		state.unplaced(offering, "no eligible slot for any lecture")
	}
	for day := 0; day < models.DaysPerWeek; day++ {
		if len(state.theory) == 0 || state.lecture[day] >= TheoryDailyCap || state.grid.DayEmpty(day) {
			continue
		}
		state.issues = append(state.issues, Issue{
			Kind:    IssueUnderfilledDay,
			Batch:   state.batch,
			Day:     models.DayNames[day],
			Message: fmt.Sprintf("only %d theory lectures placed", state.lecture[day]),
		})
		e.logger.Debug("underfilled day", zap.Int("batch", state.batch), zap.String("day", models.DayNames[day]), zap.Int("lectures", state.lecture[day]))
	}
}

func (s *batchState) theoryEligible(offering models.Offering, day int) bool {
	return s.weekly[offering.Subject] < TheoryWeeklyCap &&
		s.lecture[day] < TheoryDailyCap &&
		!s.grid.HasSubject(day, offering.Subject)
}

func (s *batchState) placeTheory(offering models.Offering, day, slot int) {
	s.grid[day][slot] = sessionFor(offering)
	s.weekly[offering.Subject]++
	s.lecture[day]++
	s.coord.Commit(offering.Instructor, offering.Type, day, slot)
}

func (s *batchState) unplaced(offering models.Offering, reason string) {
	s.issues = append(s.issues, Issue{
		Kind:       IssueUnplacedOffering,
		Batch:      s.batch,
		Subject:    offering.Subject,
		Type:       offering.Type,
		Instructor: offering.Instructor,
		Message:    reason,
	})
}

func sessionFor(offering models.Offering) *models.Session {
	return &models.Session{
		Subject:    offering.Subject,
		Type:       offering.Type,
		Instructor: offering.Instructor,
	}
}
