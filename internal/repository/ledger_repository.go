package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/timetable-api/internal/models"
)

// LedgerName identifies the institution-wide ledger document.
const LedgerName = "institution"

// ErrVersionConflict reports that the stored ledger moved past the expected version.
var ErrVersionConflict = errors.New("ledger version conflict")

type ledgerPayload struct {
	Instructors models.SlotSet `json:"instructors"`
	Rooms       models.SlotSet `json:"rooms"`
	Labs        models.SlotSet `json:"labs"`
}

type ledgerRow struct {
	Version   int64          `db:"version"`
	Payload   types.JSONText `db:"payload"`
	UpdatedAt time.Time      `db:"updated_at"`
}

// LedgerRepository stores the instructor and room/lab ledgers as one versioned document.
type LedgerRepository struct {
	db   *sqlx.DB
	name string
}

// NewLedgerRepository constructs the repository for the institution ledger.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db, name: LedgerName}
}

func (r *LedgerRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Load returns the stored snapshot, or an empty version-0 snapshot when none exists yet.
func (r *LedgerRepository) Load(ctx context.Context) (*models.LedgerSnapshot, error) {
	const query = `SELECT version, payload, updated_at FROM occupancy_ledgers WHERE name = $1`
	var row ledgerRow
	if err := r.db.GetContext(ctx, &row, query, r.name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.LedgerSnapshot{}, nil
		}
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	var payload ledgerPayload
	if err := row.Payload.Unmarshal(&payload); err != nil {
		return nil, fmt.Errorf("decode ledger payload: %w", err)
	}
	return &models.LedgerSnapshot{
		Version:     row.Version,
		Instructors: payload.Instructors,
		Rooms:       payload.Rooms,
		Labs:        payload.Labs,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}

// Save writes snapshot only if the stored version still equals expected, then bumps
// snapshot.Version. A lost race yields ErrVersionConflict.
func (r *LedgerRepository) Save(ctx context.Context, exec sqlx.ExtContext, snapshot *models.LedgerSnapshot, expected int64) error {
	if snapshot == nil {
		return fmt.Errorf("ledger snapshot is nil")
	}
	payload, err := json.Marshal(ledgerPayload{
		Instructors: snapshot.Instructors,
		Rooms:       snapshot.Rooms,
		Labs:        snapshot.Labs,
	})
	if err != nil {
		return fmt.Errorf("encode ledger payload: %w", err)
	}
	now := time.Now().UTC()
	next := expected + 1

	var res sql.Result
	if expected == 0 {
		const insert = `INSERT INTO occupancy_ledgers (name, version, payload, updated_at)
VALUES ($1, $2, $3, $4) ON CONFLICT (name) DO NOTHING`
		res, err = r.exec(exec).ExecContext(ctx, insert, r.name, next, types.JSONText(payload), now)
	} else {
		const update = `UPDATE occupancy_ledgers SET version = $1, payload = $2, updated_at = $3
WHERE name = $4 AND version = $5`
		res, err = r.exec(exec).ExecContext(ctx, update, next, types.JSONText(payload), now, r.name, expected)
	}
	if err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save ledger rows affected: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	snapshot.Version = next
	snapshot.UpdatedAt = now
	return nil
}
