package scheduler

import (
	"sort"
	"strconv"

	"github.com/noah-isme/timetable-api/internal/models"
)

type trackKey struct {
	instructor string
	typ        models.SessionType
}

// TrackedSet lists the (instructor, session type) pairs that must be checked against the instructor ledger.
type TrackedSet struct {
	pairs map[trackKey]struct{}
}

type classifierGroup struct {
	subjects map[string]struct{}
	contexts map[string]struct{}
}

// Classify scans the full catalog and tracks an instructor when, for some session type, they teach
// more than one distinct subject of that type or teach it across more than one (year, specialization)
// pair. A tracked instructor is tracked for every session type they teach.
func Classify(all []models.Offering) TrackedSet {
	groups := make(map[trackKey]*classifierGroup)
	for _, offering := range all {
		if offering.Instructor == "" {
			continue
		}
		key := trackKey{instructor: offering.Instructor, typ: offering.Type}
		group, ok := groups[key]
		if !ok {
			group = &classifierGroup{subjects: map[string]struct{}{}, contexts: map[string]struct{}{}}
			groups[key] = group
		}
		group.subjects[offering.Subject] = struct{}{}
		group.contexts[contextKey(offering.Year, offering.Specialization)] = struct{}{}
	}

	set := TrackedSet{pairs: make(map[trackKey]struct{})}
	trackedInstructors := make(map[string]struct{})
	for key, group := range groups {
		if len(group.subjects) > 1 || len(group.contexts) > 1 {
			trackedInstructors[key.instructor] = struct{}{}
		}
	}
	// The ledger is keyed by instructor alone, so every session type of a tracked
	// instructor has to be checked against it.
	for key := range groups {
		if _, ok := trackedInstructors[key.instructor]; ok {
			set.pairs[key] = struct{}{}
		}
	}
	return set
}

// IsTracked reports whether instructor requires ledger checks for the session type.
func (t TrackedSet) IsTracked(instructor string, typ models.SessionType) bool {
	if t.pairs == nil {
		return false
	}
	_, ok := t.pairs[trackKey{instructor: instructor, typ: typ}]
	return ok
}

// Extend tracks every instructor of the given offerings. A run with several batches uses it so
// one instructor teaching one offering to every batch cannot be double-booked.
func (t *TrackedSet) Extend(offerings []models.Offering) {
	if t.pairs == nil {
		t.pairs = make(map[trackKey]struct{})
	}
	for _, offering := range offerings {
		if offering.Instructor == "" {
			continue
		}
		t.pairs[trackKey{instructor: offering.Instructor, typ: offering.Type}] = struct{}{}
	}
}

// Len returns the number of tracked pairs.
func (t TrackedSet) Len() int {
	return len(t.pairs)
}

// Instructors returns the distinct tracked instructors, sorted.
func (t TrackedSet) Instructors() []string {
	seen := make(map[string]struct{}, len(t.pairs))
	for key := range t.pairs {
		seen[key.instructor] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func contextKey(year int, specialization string) string {
	return strconv.Itoa(year) + "|" + specialization
}
