package dto

import (
	"time"

	"github.com/noah-isme/timetable-api/internal/models"
	"github.com/noah-isme/timetable-api/internal/scheduler"
)

// GenerateTimetableRequest asks for the timetables of every batch of a (year, semester, specialization).
type GenerateTimetableRequest struct {
	Year           int    `json:"year" validate:"required,min=1,max=4"`
	Semester       int    `json:"semester" validate:"required,min=1,max=8"`
	Specialization string `json:"specialization" validate:"omitempty,max=64"`
	Seed           int64  `json:"seed"`
	Strategy       string `json:"strategy" validate:"omitempty,oneof=random scan"`
	Async          bool   `json:"async"`
}

// Key returns the timetable key addressed by the request.
func (r GenerateTimetableRequest) Key() models.TimetableKey {
	return models.TimetableKey{Year: r.Year, Semester: r.Semester, Specialization: r.Specialization}
}

// GenerationStats summarises one generation run.
type GenerationStats struct {
	Batches            int   `json:"batches"`
	UnplacedOfferings  int   `json:"unplacedOfferings"`
	UnassignedSessions int   `json:"unassignedSessions"`
	EmptyDays          int   `json:"emptyDays"`
	UnderfilledDays    int   `json:"underfilledDays"`
	TrackedPairs       int   `json:"trackedPairs"`
	Attempts           int   `json:"attempts"`
	LedgerVersion      int64 `json:"ledgerVersion"`
	Seed               int64 `json:"seed"`
	DurationMs         int64 `json:"durationMs"`
}

// GenerateTimetableResponse is the committed outcome of a generation run.
type GenerateTimetableResponse struct {
	Key        models.TimetableKey `json:"key"`
	Timetables []models.Timetable  `json:"timetables"`
	Warnings   []scheduler.Issue   `json:"warnings"`
	Stats      GenerationStats     `json:"stats"`
}

// GenerationJobResponse acknowledges an asynchronous generation request.
type GenerationJobResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// TimetableQuery addresses the timetables of one key.
type TimetableQuery struct {
	Year           int    `form:"year" json:"year" validate:"required,min=1,max=4"`
	Semester       int    `form:"semester" json:"semester" validate:"required,min=1,max=8"`
	Specialization string `form:"specialization" json:"specialization"`
}

// Key converts the query into a timetable key.
func (q TimetableQuery) Key() models.TimetableKey {
	return models.TimetableKey{Year: q.Year, Semester: q.Semester, Specialization: q.Specialization}
}

// ExportFile is a rendered timetable document.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// DeleteTimetablesResponse reports what a deletion removed.
type DeleteTimetablesResponse struct {
	Deleted       int64 `json:"deleted"`
	Released      int   `json:"released"`
	LedgerVersion int64 `json:"ledgerVersion"`
}

// LedgerResponse is the occupancy ledger view.
type LedgerResponse struct {
	Version     int64            `json:"version"`
	Instructors models.SlotSet   `json:"instructors"`
	Rooms       models.SlotSet   `json:"rooms"`
	Labs        models.SlotSet   `json:"labs"`
	Entries     LedgerEntryCount `json:"entries"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// LedgerEntryCount counts booked (day, slot, id) triples per ledger.
type LedgerEntryCount struct {
	Instructors int `json:"instructors"`
	Rooms       int `json:"rooms"`
	Labs        int `json:"labs"`
}
