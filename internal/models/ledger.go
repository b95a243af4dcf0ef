package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// SlotSet maps (day, slot) to the set of identifiers committed there.
type SlotSet struct {
	cells [DaysPerWeek][SlotsPerDay]map[string]struct{}
}

// Has reports whether id is committed at (day, slot).
func (s *SlotSet) Has(day, slot int, id string) bool {
	if !inGrid(day, slot) {
		return false
	}
	_, ok := s.cells[day][slot][id]
	return ok
}

// Add commits id at (day, slot).
func (s *SlotSet) Add(day, slot int, id string) {
	if !inGrid(day, slot) || id == "" {
		return
	}
	if s.cells[day][slot] == nil {
		s.cells[day][slot] = make(map[string]struct{})
	}
	s.cells[day][slot][id] = struct{}{}
}

// Remove drops id from (day, slot).
func (s *SlotSet) Remove(day, slot int, id string) {
	if !inGrid(day, slot) {
		return
	}
	delete(s.cells[day][slot], id)
}

// Members returns the sorted identifiers committed at (day, slot).
func (s *SlotSet) Members(day, slot int) []string {
	if !inGrid(day, slot) {
		return nil
	}
	members := make([]string, 0, len(s.cells[day][slot]))
	for id := range s.cells[day][slot] {
		members = append(members, id)
	}
	sort.Strings(members)
	return members
}

// Len counts every (day, slot, id) commitment.
func (s *SlotSet) Len() int {
	total := 0
	for day := range s.cells {
		for slot := range s.cells[day] {
			total += len(s.cells[day][slot])
		}
	}
	return total
}

// Clone returns a deep copy.
func (s *SlotSet) Clone() SlotSet {
	var out SlotSet
	for day := range s.cells {
		for slot, ids := range s.cells[day] {
			for id := range ids {
				out.Add(day, slot, id)
			}
		}
	}
	return out
}

// MarshalJSON renders {day: {slot label: [ids]}}, omitting empty cells.
func (s SlotSet) MarshalJSON() ([]byte, error) {
	out := make(map[string]map[string][]string)
	for day := 0; day < DaysPerWeek; day++ {
		for slot := 0; slot < SlotsPerDay; slot++ {
			members := s.Members(day, slot)
			if len(members) == 0 {
				continue
			}
			if out[DayNames[day]] == nil {
				out[DayNames[day]] = make(map[string][]string)
			}
			out[DayNames[day]][SlotLabels[slot]] = members
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the representation produced by MarshalJSON.
func (s *SlotSet) UnmarshalJSON(data []byte) error {
	var raw map[string]map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out SlotSet
	for dayName, slots := range raw {
		day, ok := DayIndex(dayName)
		if !ok {
			return fmt.Errorf("unknown day %q", dayName)
		}
		for label, ids := range slots {
			slot, ok := SlotIndex(label)
			if !ok {
				return fmt.Errorf("unknown slot %q", label)
			}
			for _, id := range ids {
				out.Add(day, slot, id)
			}
		}
	}
	*s = out
	return nil
}

// LedgerSnapshot is the persisted, versioned pair of occupancy ledgers.
type LedgerSnapshot struct {
	Version     int64     `json:"version"`
	Instructors SlotSet   `json:"instructors"`
	Rooms       SlotSet   `json:"rooms"`
	Labs        SlotSet   `json:"labs"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone deep-copies the snapshot so a run can mutate it without touching the original.
func (l *LedgerSnapshot) Clone() *LedgerSnapshot {
	return &LedgerSnapshot{
		Version:     l.Version,
		Instructors: l.Instructors.Clone(),
		Rooms:       l.Rooms.Clone(),
		Labs:        l.Labs.Clone(),
		UpdatedAt:   l.UpdatedAt,
	}
}

// Release removes every commitment held by the sessions of the given timetables.
func (l *LedgerSnapshot) Release(timetables []Timetable) int {
	released := 0
	for i := range timetables {
		grid := &timetables[i].Grid
		for day := 0; day < DaysPerWeek; day++ {
			for slot := 0; slot < SlotsPerDay; slot++ {
				session := grid[day][slot]
				if session == nil || session.IsOffice() {
					continue
				}
				if l.Instructors.Has(day, slot, session.Instructor) {
					l.Instructors.Remove(day, slot, session.Instructor)
					released++
				}
				if session.Room != "" && l.Rooms.Has(day, slot, session.Room) {
					l.Rooms.Remove(day, slot, session.Room)
					released++
				}
				if session.Lab != "" && l.Labs.Has(day, slot, session.Lab) {
					l.Labs.Remove(day, slot, session.Lab)
					released++
				}
			}
		}
	}
	return released
}
