package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

const (
	DaysPerWeek = 5
	SlotsPerDay = 7
	// LunchSlot is addressable but never receives a session.
	LunchSlot = 2
)

// DayNames lists the teaching days in grid order.
var DayNames = [DaysPerWeek]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"}

// SlotLabels lists the wall-clock label of every slot in grid order.
var SlotLabels = [SlotsPerDay]string{
	"9:30 - 10:30",
	"10:30 - 11:30",
	"11:30 - 12:30",
	"1:30 - 2:30",
	"2:30 - 3:30",
	"3:30 - 4:30",
	"4:30 - 5:30",
}

const officeHourSubject = "Office Hour"

// DayIndex resolves a day name to its grid index.
func DayIndex(name string) (int, bool) {
	for i, day := range DayNames {
		if day == name {
			return i, true
		}
	}
	return 0, false
}

// SlotIndex resolves a slot label to its grid index.
func SlotIndex(label string) (int, bool) {
	for i, slot := range SlotLabels {
		if slot == label {
			return i, true
		}
	}
	return 0, false
}

// Session is the content of one grid cell.
type Session struct {
	Subject    string      `json:"subject"`
	Type       SessionType `json:"type"`
	Instructor string      `json:"instructor,omitempty"`
	Room       string      `json:"room,omitempty"`
	Lab        string      `json:"lab,omitempty"`
}

// OfficeHour returns a filler session.
func OfficeHour() *Session {
	return &Session{Subject: officeHourSubject, Type: SessionOffice}
}

// IsOffice reports whether the session is an Office-Hour filler.
func (s *Session) IsOffice() bool {
	return s != nil && s.Type == SessionOffice
}

// Resource returns the assigned room or lab, if any.
func (s *Session) Resource() string {
	if s == nil {
		return ""
	}
	if s.Lab != "" {
		return s.Lab
	}
	return s.Room
}

// WeeklyGrid holds one batch's week, indexed by day then slot. Nil cells are empty.
type WeeklyGrid [DaysPerWeek][SlotsPerDay]*Session

// At returns the session at (day, slot) or nil when out of range or empty.
func (g *WeeklyGrid) At(day, slot int) *Session {
	if !inGrid(day, slot) {
		return nil
	}
	return g[day][slot]
}

// IsEmpty reports whether (day, slot) holds no session.
func (g *WeeklyGrid) IsEmpty(day, slot int) bool {
	return inGrid(day, slot) && g[day][slot] == nil
}

// DayEmpty reports whether no cell of the day is filled.
func (g *WeeklyGrid) DayEmpty(day int) bool {
	for slot := 0; slot < SlotsPerDay; slot++ {
		if g[day][slot] != nil {
			return false
		}
	}
	return true
}

// HasLab reports whether a Lab block already occupies the day.
func (g *WeeklyGrid) HasLab(day int) bool {
	for slot := 0; slot < SlotsPerDay; slot++ {
		if s := g[day][slot]; s != nil && s.Type == SessionLab {
			return true
		}
	}
	return false
}

// HasSubject reports whether a non-filler session for subject is present on the day.
func (g *WeeklyGrid) HasSubject(day int, subject string) bool {
	for slot := 0; slot < SlotsPerDay; slot++ {
		if s := g[day][slot]; s != nil && !s.IsOffice() && s.Subject == subject {
			return true
		}
	}
	return false
}

// CountType counts the cells of the given type on a day.
func (g *WeeklyGrid) CountType(day int, t SessionType) int {
	count := 0
	for slot := 0; slot < SlotsPerDay; slot++ {
		if s := g[day][slot]; s != nil && s.Type == t {
			count++
		}
	}
	return count
}

func inGrid(day, slot int) bool {
	return day >= 0 && day < DaysPerWeek && slot >= 0 && slot < SlotsPerDay
}

// MarshalJSON renders the grid as {day: {slot label: session|null}}.
func (g WeeklyGrid) MarshalJSON() ([]byte, error) {
	out := make(map[string]map[string]*Session, DaysPerWeek)
	for day := 0; day < DaysPerWeek; day++ {
		slots := make(map[string]*Session, SlotsPerDay)
		for slot := 0; slot < SlotsPerDay; slot++ {
			slots[SlotLabels[slot]] = g[day][slot]
		}
		out[DayNames[day]] = slots
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the representation produced by MarshalJSON.
func (g *WeeklyGrid) UnmarshalJSON(data []byte) error {
	var raw map[string]map[string]*Session
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var grid WeeklyGrid
	for dayName, slots := range raw {
		day, ok := DayIndex(dayName)
		if !ok {
			return fmt.Errorf("unknown day %q", dayName)
		}
		for label, session := range slots {
			slot, ok := SlotIndex(label)
			if !ok {
				return fmt.Errorf("unknown slot %q", label)
			}
			grid[day][slot] = session
		}
	}
	*g = grid
	return nil
}

// Value implements driver.Valuer so grids persist as JSON documents.
func (g WeeklyGrid) Value() (driver.Value, error) {
	payload, err := g.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(payload), nil
}

// Scan implements sql.Scanner.
func (g *WeeklyGrid) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return g.UnmarshalJSON(v)
	case string:
		return g.UnmarshalJSON([]byte(v))
	case nil:
		*g = WeeklyGrid{}
		return nil
	default:
		return fmt.Errorf("unsupported grid source %T", src)
	}
}
