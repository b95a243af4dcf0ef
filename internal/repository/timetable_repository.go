package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/timetable-api/internal/models"
)

// TimetableRepository persists generated timetables keyed by (year, semester, batch, specialization).
type TimetableRepository struct {
	db *sqlx.DB
}

// NewTimetableRepository constructs the repository.
func NewTimetableRepository(db *sqlx.DB) *TimetableRepository {
	return &TimetableRepository{db: db}
}

func (r *TimetableRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

const timetableColumns = `id, year, semester, batch, specialization, total_students, batch_strength, grid, generated_at, updated_at`

// Upsert inserts or replaces the timetable for its identity key. An existing row keeps its id.
func (r *TimetableRepository) Upsert(ctx context.Context, exec sqlx.ExtContext, timetable *models.Timetable) error {
	if timetable == nil {
		return fmt.Errorf("timetable payload is nil")
	}
	if timetable.ID == "" {
		timetable.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if timetable.GeneratedAt.IsZero() {
		timetable.GeneratedAt = now
	}
	timetable.UpdatedAt = now

	const query = `
INSERT INTO timetables (` + timetableColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (year, semester, batch, specialization) DO UPDATE
SET total_students = EXCLUDED.total_students,
    batch_strength = EXCLUDED.batch_strength,
    grid = EXCLUDED.grid,
    generated_at = EXCLUDED.generated_at,
    updated_at = EXCLUDED.updated_at
RETURNING id`
	row := r.exec(exec).QueryRowxContext(ctx, query,
		timetable.ID,
		timetable.Year,
		timetable.Semester,
		timetable.Batch,
		timetable.Specialization,
		timetable.TotalStudents,
		timetable.BatchStrength,
		timetable.Grid,
		timetable.GeneratedAt,
		timetable.UpdatedAt,
	)
	if err := row.Scan(&timetable.ID); err != nil {
		return fmt.Errorf("upsert timetable %s batch %d: %w", timetable.Key(), timetable.Batch, err)
	}
	return nil
}

// ListByKey returns the timetables of a key ordered by batch.
func (r *TimetableRepository) ListByKey(ctx context.Context, key models.TimetableKey) ([]models.Timetable, error) {
	const query = `SELECT ` + timetableColumns + ` FROM timetables
WHERE year = $1 AND semester = $2 AND specialization = $3 ORDER BY batch`
	var timetables []models.Timetable
	if err := r.db.SelectContext(ctx, &timetables, query, key.Year, key.Semester, key.Specialization); err != nil {
		return nil, fmt.Errorf("list timetables for %s: %w", key, err)
	}
	return timetables, nil
}

// Find returns one batch's timetable or sql.ErrNoRows.
func (r *TimetableRepository) Find(ctx context.Context, key models.TimetableKey, batch int) (*models.Timetable, error) {
	const query = `SELECT ` + timetableColumns + ` FROM timetables
WHERE year = $1 AND semester = $2 AND specialization = $3 AND batch = $4`
	var timetable models.Timetable
	if err := r.db.GetContext(ctx, &timetable, query, key.Year, key.Semester, key.Specialization, batch); err != nil {
		return nil, err
	}
	return &timetable, nil
}

// DeleteBatchesAfter removes the batches of key numbered above last, left over from a run that
// produced more sections.
func (r *TimetableRepository) DeleteBatchesAfter(ctx context.Context, exec sqlx.ExtContext, key models.TimetableKey, last int) (int64, error) {
	const query = `DELETE FROM timetables WHERE year = $1 AND semester = $2 AND specialization = $3 AND batch > $4`
	res, err := r.exec(exec).ExecContext(ctx, query, key.Year, key.Semester, key.Specialization, last)
	if err != nil {
		return 0, fmt.Errorf("delete stale batches for %s: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete stale batches rows affected: %w", err)
	}
	return affected, nil
}

// DeleteByKey removes every batch of a key and reports how many rows were deleted.
func (r *TimetableRepository) DeleteByKey(ctx context.Context, exec sqlx.ExtContext, key models.TimetableKey) (int64, error) {
	const query = `DELETE FROM timetables WHERE year = $1 AND semester = $2 AND specialization = $3`
	res, err := r.exec(exec).ExecContext(ctx, query, key.Year, key.Semester, key.Specialization)
	if err != nil {
		return 0, fmt.Errorf("delete timetables for %s: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete timetables rows affected: %w", err)
	}
	return affected, nil
}
