package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/timetable-api/internal/models"
)

// GenerationStore writes a run's timetables and the ledger in one database transaction, so a
// failed ledger write leaves no timetable behind.
type GenerationStore struct {
	db         *sqlx.DB
	timetables *TimetableRepository
	ledger     *LedgerRepository
}

// NewGenerationStore constructs the store.
func NewGenerationStore(db *sqlx.DB, timetables *TimetableRepository, ledger *LedgerRepository) *GenerationStore {
	return &GenerationStore{db: db, timetables: timetables, ledger: ledger}
}

// Commit upserts every timetable, deletes batches of the same key beyond the new batch count and
// saves the ledger against the expected version.
func (s *GenerationStore) Commit(ctx context.Context, timetables []models.Timetable, snapshot *models.LedgerSnapshot, expected int64) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin generation transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for i := range timetables {
		if err = s.timetables.Upsert(ctx, tx, &timetables[i]); err != nil {
			return err
		}
	}
	if len(timetables) > 0 {
		if _, err = s.timetables.DeleteBatchesAfter(ctx, tx, timetables[0].Key(), len(timetables)); err != nil {
			return err
		}
	}
	if err = s.ledger.Save(ctx, tx, snapshot, expected); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit generation transaction: %w", err)
	}
	return nil
}

// Remove deletes a key's timetables and saves the released ledger in one transaction.
func (s *GenerationStore) Remove(ctx context.Context, key models.TimetableKey, snapshot *models.LedgerSnapshot, expected int64) (deleted int64, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if deleted, err = s.timetables.DeleteByKey(ctx, tx, key); err != nil {
		return 0, err
	}
	if err = s.ledger.Save(ctx, tx, snapshot, expected); err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete transaction: %w", err)
	}
	return deleted, nil
}

// SaveLedger writes the ledger alone, used when resetting occupancy.
func (s *GenerationStore) SaveLedger(ctx context.Context, snapshot *models.LedgerSnapshot, expected int64) error {
	return s.ledger.Save(ctx, nil, snapshot, expected)
}
