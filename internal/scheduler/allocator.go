package scheduler

import (
	"math/rand"

	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/models"
)

// Allocator assigns rooms and labs to placed sessions.
type Allocator struct {
	rng    *rand.Rand
	logger *zap.Logger
}

// NewAllocator builds an allocator driven by rng.
func NewAllocator(rng *rand.Rand, logger *zap.Logger) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{rng: rng, logger: logger}
}

// Allocate enriches every non-filler session with a room or lab whose capacity is at least strength
// and which is free in the ledger at that slot. Lab blocks receive one lab free at both of their
// slots. Sessions without a candidate keep no resource and are reported; nothing is rolled back.
func (a *Allocator) Allocate(timetables []models.Timetable, strength int, rooms []models.Room, labs []models.Lab, ledger *models.LedgerSnapshot) []Issue {
	var issues []Issue
	for i := range timetables {
		tt := &timetables[i]
		var handled [models.DaysPerWeek][models.SlotsPerDay]bool
		for day := 0; day < models.DaysPerWeek; day++ {
			for slot := 0; slot < models.SlotsPerDay; slot++ {
				session := tt.Grid[day][slot]
				if session == nil || session.IsOffice() || handled[day][slot] {
					continue
				}
				handled[day][slot] = true

				switch session.Type {
				case models.SessionLab:
					slots := []int{slot}
					if partner, ok := labPartner(&tt.Grid, day, slot); ok {
						handled[day][partner] = true
						slots = append(slots, partner)
					}
					if session.Lab != "" {
						continue
					}
					lab, ok := a.pickLab(labs, strength, &ledger.Labs, day, slots)
					if !ok {
						issues = append(issues, a.unassigned(tt.Batch, session, day, slot))
						continue
					}
					for _, cell := range slots {
						tt.Grid[day][cell].Lab = lab
						ledger.Labs.Add(day, cell, lab)
					}
				case models.SessionTheory, models.SessionTutorial:
					if session.Room != "" {
						continue
					}
					room, ok := a.pickRoom(rooms, strength, &ledger.Rooms, day, slot)
					if !ok {
						issues = append(issues, a.unassigned(tt.Batch, session, day, slot))
						continue
					}
					session.Room = room
					ledger.Rooms.Add(day, slot, room)
				}
			}
		}
	}
	return issues
}

func (a *Allocator) pickRoom(rooms []models.Room, strength int, occupied *models.SlotSet, day, slot int) (string, bool) {
	var candidates []string
	for _, room := range rooms {
		if room.Capacity >= strength && !occupied.Has(day, slot, room.Number) {
			candidates = append(candidates, room.Number)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[a.rng.Intn(len(candidates))], true
}

func (a *Allocator) pickLab(labs []models.Lab, strength int, occupied *models.SlotSet, day int, slots []int) (string, bool) {
	var candidates []string
	for _, lab := range labs {
		if lab.Capacity < strength {
			continue
		}
		free := true
		for _, slot := range slots {
			if occupied.Has(day, slot, lab.Number) {
				free = false
				break
			}
		}
		if free {
			candidates = append(candidates, lab.Number)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[a.rng.Intn(len(candidates))], true
}

func (a *Allocator) unassigned(batch int, session *models.Session, day, slot int) Issue {
	a.logger.Warn("no resource available",
		zap.Int("batch", batch),
		zap.String("subject", session.Subject),
		zap.String("day", models.DayNames[day]),
		zap.String("slot", models.SlotLabels[slot]),
	)
	return Issue{
		Kind:       IssueUnassignedResource,
		Batch:      batch,
		Subject:    session.Subject,
		Type:       session.Type,
		Instructor: session.Instructor,
		Day:        models.DayNames[day],
		Slot:       models.SlotLabels[slot],
		Message:    "no room or lab with sufficient capacity is free",
	}
}

// labPartner finds the adjacent cell holding the other half of the lab block at (day, slot).
func labPartner(grid *models.WeeklyGrid, day, slot int) (int, bool) {
	session := grid[day][slot]
	for _, candidate := range []int{slot + 1, slot - 1} {
		other := grid.At(day, candidate)
		if other != nil && other.Type == models.SessionLab && other.Subject == session.Subject {
			return candidate, true
		}
	}
	return 0, false
}
