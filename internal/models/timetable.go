package models

import (
	"fmt"
	"time"
)

// TimetableKey identifies one generation request.
type TimetableKey struct {
	Year           int    `json:"year"`
	Semester       int    `json:"semester"`
	Specialization string `json:"specialization,omitempty"`
}

func (k TimetableKey) String() string {
	if k.Specialization == "" {
		return fmt.Sprintf("year=%d/semester=%d", k.Year, k.Semester)
	}
	return fmt.Sprintf("year=%d/semester=%d/specialization=%s", k.Year, k.Semester, k.Specialization)
}

// Timetable is the finished weekly grid for one batch. Identity is (year, semester, batch, specialization).
type Timetable struct {
	ID             string     `db:"id" json:"id"`
	Year           int        `db:"year" json:"year"`
	Semester       int        `db:"semester" json:"semester"`
	Batch          int        `db:"batch" json:"batch"`
	Specialization string     `db:"specialization" json:"specialization,omitempty"`
	TotalStudents  int        `db:"total_students" json:"total_students"`
	BatchStrength  int        `db:"batch_strength" json:"batch_strength"`
	Grid           WeeklyGrid `db:"grid" json:"data"`
	GeneratedAt    time.Time  `db:"generated_at" json:"generated_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Key returns the generation key the timetable belongs to.
func (t Timetable) Key() TimetableKey {
	return TimetableKey{Year: t.Year, Semester: t.Semester, Specialization: t.Specialization}
}
