package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/timetable-api/internal/models"
)

// OfferingRepository reads subject offerings.
type OfferingRepository struct {
	db *sqlx.DB
}

// NewOfferingRepository constructs the repository.
func NewOfferingRepository(db *sqlx.DB) *OfferingRepository {
	return &OfferingRepository{db: db}
}

const offeringColumns = `id, subject, session_type, instructor, year, semester, specialization`

// ListByKey returns the offerings of one (year, semester, specialization) key.
func (r *OfferingRepository) ListByKey(ctx context.Context, key models.TimetableKey) ([]models.Offering, error) {
	const query = `SELECT ` + offeringColumns + ` FROM subject_offerings
WHERE year = $1 AND semester = $2 AND specialization = $3 ORDER BY subject, session_type, id`
	var offerings []models.Offering
	if err := r.db.SelectContext(ctx, &offerings, query, key.Year, key.Semester, key.Specialization); err != nil {
		return nil, fmt.Errorf("list offerings for %s: %w", key, err)
	}
	return offerings, nil
}

// ListAll returns every offering in the catalog.
func (r *OfferingRepository) ListAll(ctx context.Context) ([]models.Offering, error) {
	const query = `SELECT ` + offeringColumns + ` FROM subject_offerings ORDER BY year, semester, specialization, subject, id`
	var offerings []models.Offering
	if err := r.db.SelectContext(ctx, &offerings, query); err != nil {
		return nil, fmt.Errorf("list offerings: %w", err)
	}
	return offerings, nil
}

// RoomRepository reads rooms and labs.
type RoomRepository struct {
	db *sqlx.DB
}

// NewRoomRepository constructs the repository.
func NewRoomRepository(db *sqlx.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

// ListRooms returns every lecture room.
func (r *RoomRepository) ListRooms(ctx context.Context) ([]models.Room, error) {
	const query = `SELECT room_no, capacity FROM rooms ORDER BY room_no`
	var rooms []models.Room
	if err := r.db.SelectContext(ctx, &rooms, query); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

// ListLabs returns every laboratory.
func (r *RoomRepository) ListLabs(ctx context.Context) ([]models.Lab, error) {
	const query = `SELECT lab_no, capacity FROM labs ORDER BY lab_no`
	var labs []models.Lab
	if err := r.db.SelectContext(ctx, &labs, query); err != nil {
		return nil, fmt.Errorf("list labs: %w", err)
	}
	return labs, nil
}

// StrengthRepository reads batch strength records.
type StrengthRepository struct {
	db *sqlx.DB
}

// NewStrengthRepository constructs the repository.
func NewStrengthRepository(db *sqlx.DB) *StrengthRepository {
	return &StrengthRepository{db: db}
}

// Find returns the strength for (year, specialization), preferring an exact specialization match
// over the year-level record. Missing records yield sql.ErrNoRows.
func (r *StrengthRepository) Find(ctx context.Context, year int, specialization string) (*models.BatchStrength, error) {
	const query = `SELECT year, specialization, sections, total_students FROM batch_strengths
WHERE year = $1 AND specialization IN ($2, '') ORDER BY specialization DESC LIMIT 1`
	var strength models.BatchStrength
	if err := r.db.GetContext(ctx, &strength, query, year, specialization); err != nil {
		return nil, err
	}
	return &strength, nil
}
