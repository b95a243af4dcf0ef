package scheduler

import (
	"math/rand"

	"github.com/noah-isme/timetable-api/internal/models"
)

// Slot addresses the first cell of a placement.
type Slot struct {
	Day   int
	Start int
}

// Request describes one placement decision: how many consecutive cells it needs and which slots are acceptable.
type Request struct {
	Width int
	Fits  func(Slot) bool
}

// Placer chooses a slot satisfying a request.
type Placer interface {
	Place(req Request) (Slot, bool)
}

// RandomPlacer samples random (day, start) pairs until one fits or the retry budget runs out.
type RandomPlacer struct {
	rng    *rand.Rand
	budget int
}

// NewRandomPlacer builds a retry-bounded random placer.
func NewRandomPlacer(rng *rand.Rand, budget int) *RandomPlacer {
	if budget <= 0 {
		budget = DefaultRetryBudget
	}
	return &RandomPlacer{rng: rng, budget: budget}
}

// Place implements Placer.
func (p *RandomPlacer) Place(req Request) (Slot, bool) {
	width := requestWidth(req)
	starts := models.SlotsPerDay - width + 1
	if starts <= 0 || req.Fits == nil {
		return Slot{}, false
	}
	for attempt := 0; attempt < p.budget; attempt++ {
		slot := Slot{Day: p.rng.Intn(models.DaysPerWeek), Start: p.rng.Intn(starts)}
		if req.Fits(slot) {
			return slot, true
		}
	}
	return Slot{}, false
}

// ScanPlacer visits every candidate slot once in shuffled order, so it only fails when nothing fits.
type ScanPlacer struct {
	rng *rand.Rand
}

// NewScanPlacer builds an exhaustive placer.
func NewScanPlacer(rng *rand.Rand) *ScanPlacer {
	return &ScanPlacer{rng: rng}
}

// Place implements Placer.
func (p *ScanPlacer) Place(req Request) (Slot, bool) {
	width := requestWidth(req)
	starts := models.SlotsPerDay - width + 1
	if starts <= 0 || req.Fits == nil {
		return Slot{}, false
	}
	candidates := make([]Slot, 0, models.DaysPerWeek*starts)
	for day := 0; day < models.DaysPerWeek; day++ {
		for start := 0; start < starts; start++ {
			candidates = append(candidates, Slot{Day: day, Start: start})
		}
	}
	p.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	for _, slot := range candidates {
		if req.Fits(slot) {
			return slot, true
		}
	}
	return Slot{}, false
}

func requestWidth(req Request) int {
	if req.Width <= 0 {
		return 1
	}
	return req.Width
}
