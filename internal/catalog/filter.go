package catalog

import "github.com/noah-isme/timetable-api/internal/models"

// OfferingsFor returns the offerings of a key in catalog order. An empty specialization matches
// only offerings without one.
func OfferingsFor(all []models.Offering, key models.TimetableKey) []models.Offering {
	var out []models.Offering
	for _, offering := range all {
		if offering.Year == key.Year && offering.Semester == key.Semester && offering.Specialization == key.Specialization {
			out = append(out, offering)
		}
	}
	return out
}

// StrengthFor finds the strength record for (year, specialization), falling back to the
// year-level record when no specialization-specific one exists.
func StrengthFor(all []models.BatchStrength, year int, specialization string) (models.BatchStrength, bool) {
	var fallback *models.BatchStrength
	for i := range all {
		record := all[i]
		if record.Year != year {
			continue
		}
		if record.Specialization == specialization {
			return record, true
		}
		if record.Specialization == "" && fallback == nil {
			fallback = &all[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return models.BatchStrength{}, false
}
