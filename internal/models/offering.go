package models

import (
	"fmt"
	"math"
	"strings"
)

// SessionType classifies what kind of teaching a session represents.
type SessionType string

const (
	SessionTheory   SessionType = "Theory"
	SessionLab      SessionType = "Lab"
	SessionTutorial SessionType = "Tutorial"
	// SessionOffice marks the Office-Hour filler written into spare slots.
	SessionOffice SessionType = "Office"
)

// ParseSessionType normalises user supplied session types.
func ParseSessionType(raw string) (SessionType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "theory", "lecture":
		return SessionTheory, nil
	case "lab", "laboratory", "practical":
		return SessionLab, nil
	case "tutorial":
		return SessionTutorial, nil
	default:
		return "", fmt.Errorf("unknown session type %q", raw)
	}
}

// Schedulable reports whether offerings of this type are placed by the engine.
func (t SessionType) Schedulable() bool {
	return t == SessionTheory || t == SessionLab || t == SessionTutorial
}

// Offering is a catalog record describing one subject taught by one instructor.
type Offering struct {
	ID             string      `db:"id" json:"id" csv:"id" yaml:"id"`
	Subject        string      `db:"subject" json:"subject" csv:"subject" yaml:"subject"`
	Type           SessionType `db:"session_type" json:"type" csv:"type" yaml:"type"`
	Instructor     string      `db:"instructor" json:"instructor" csv:"instructor" yaml:"instructor"`
	Year           int         `db:"year" json:"year" csv:"year" yaml:"year"`
	Semester       int         `db:"semester" json:"semester" csv:"semester" yaml:"semester"`
	Specialization string      `db:"specialization" json:"specialization,omitempty" csv:"specialization" yaml:"specialization"`
}

// Room is a lecture hall used for Theory and Tutorial sessions.
type Room struct {
	Number   string `db:"room_no" json:"room_no" csv:"room_no" yaml:"room_no"`
	Capacity int    `db:"capacity" json:"capacity" csv:"capacity" yaml:"capacity"`
}

// Lab is a laboratory used for Lab sessions.
type Lab struct {
	Number   string `db:"lab_no" json:"lab_no" csv:"lab_no" yaml:"lab_no"`
	Capacity int    `db:"capacity" json:"capacity" csv:"capacity" yaml:"capacity"`
}

// BatchStrength describes how a year (and optional specialization) is split into sections.
type BatchStrength struct {
	Year           int    `db:"year" json:"year" csv:"year" yaml:"year"`
	Specialization string `db:"specialization" json:"specialization,omitempty" csv:"specialization" yaml:"specialization"`
	Sections       int    `db:"sections" json:"sections" csv:"sections" yaml:"sections"`
	TotalStudents  int    `db:"total_students" json:"total_students" csv:"total_students" yaml:"total_students"`
}

// Batches returns the number of batch timetables a run produces. Records without sections yield one.
func (b BatchStrength) Batches() int {
	if b.Sections <= 0 {
		return 1
	}
	return b.Sections
}

// PerBatch returns the rounded number of students in each section.
func (b BatchStrength) PerBatch() int {
	if b.Sections <= 0 {
		return b.TotalStudents
	}
	return int(math.Round(float64(b.TotalStudents) / float64(b.Sections)))
}

// Catalog bundles every read-only record the engine consumes.
type Catalog struct {
	Offerings []Offering      `json:"offerings" yaml:"offerings"`
	Rooms     []Room          `json:"rooms" yaml:"rooms"`
	Labs      []Lab           `json:"labs" yaml:"labs"`
	Strengths []BatchStrength `json:"strengths" yaml:"strengths"`
}
