package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-api/internal/models"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestOfferingRepositoryListByKey(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewOfferingRepository(db)

	rows := sqlmock.NewRows([]string{"id", "subject", "session_type", "instructor", "year", "semester", "specialization"}).
		AddRow("o-1", "Networks", "Theory", "Dr. Rao", 3, 5, "AI").
		AddRow("o-2", "Networks Lab", "Lab", "Dr. Rao", 3, 5, "AI")
	mock.ExpectQuery(regexp.QuoteMeta("FROM subject_offerings\nWHERE year = $1 AND semester = $2 AND specialization = $3")).
		WithArgs(3, 5, "AI").
		WillReturnRows(rows)

	offerings, err := repo.ListByKey(context.Background(), models.TimetableKey{Year: 3, Semester: 5, Specialization: "AI"})
	require.NoError(t, err)
	require.Len(t, offerings, 2)
	assert.Equal(t, models.SessionLab, offerings[1].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoomRepositoryListsRoomsAndLabs(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewRoomRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT room_no, capacity FROM rooms")).
		WillReturnRows(sqlmock.NewRows([]string{"room_no", "capacity"}).AddRow("R101", 40))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT lab_no, capacity FROM labs")).
		WillReturnRows(sqlmock.NewRows([]string{"lab_no", "capacity"}).AddRow("L1", 35))

	rooms, err := repo.ListRooms(context.Background())
	require.NoError(t, err)
	labs, err := repo.ListLabs(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []models.Room{{Number: "R101", Capacity: 40}}, rooms)
	assert.Equal(t, []models.Lab{{Number: "L1", Capacity: 35}}, labs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStrengthRepositoryFindPrefersSpecialization(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewStrengthRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("specialization IN ($2, '') ORDER BY specialization DESC LIMIT 1")).
		WithArgs(3, "AI").
		WillReturnRows(sqlmock.NewRows([]string{"year", "specialization", "sections", "total_students"}).AddRow(3, "", 2, 60))
	mock.ExpectQuery(regexp.QuoteMeta("FROM batch_strengths")).
		WithArgs(4, "").
		WillReturnError(sql.ErrNoRows)

	strength, err := repo.Find(context.Background(), 3, "AI")
	require.NoError(t, err)
	assert.Equal(t, 30, strength.PerBatch())

	_, err = repo.Find(context.Background(), 4, "")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableRepositoryUpsertKeepsExistingID(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	tt := &models.Timetable{Year: 3, Semester: 5, Batch: 1, TotalStudents: 30, BatchStrength: 30}
	tt.Grid[0][0] = &models.Session{Subject: "Networks", Type: models.SessionTheory, Instructor: "Dr. Rao", Room: "R101"}

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (year, semester, batch, specialization) DO UPDATE")).
		WithArgs(sqlmock.AnyArg(), 3, 5, 1, "", 30, 30, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("existing-id"))

	require.NoError(t, repo.Upsert(context.Background(), nil, tt))
	assert.Equal(t, "existing-id", tt.ID)
	assert.False(t, tt.GeneratedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableRepositoryFindDecodesGrid(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	now := time.Now()
	grid := `{"Monday":{"9:30 - 10:30":{"subject":"Networks","type":"Theory","instructor":"Dr. Rao","room":"R101"}}}`
	rows := sqlmock.NewRows([]string{"id", "year", "semester", "batch", "specialization", "total_students", "batch_strength", "grid", "generated_at", "updated_at"}).
		AddRow("tt-1", 3, 5, 2, "AI", 60, 30, grid, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("AND batch = $4")).
		WithArgs(3, 5, "AI", 2).
		WillReturnRows(rows)

	tt, err := repo.Find(context.Background(), models.TimetableKey{Year: 3, Semester: 5, Specialization: "AI"}, 2)
	require.NoError(t, err)
	require.NotNil(t, tt.Grid[0][0])
	assert.Equal(t, "R101", tt.Grid[0][0].Room)
	assert.Nil(t, tt.Grid[0][1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableRepositoryDeleteByKey(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM timetables WHERE year = $1 AND semester = $2 AND specialization = $3")).
		WithArgs(3, 5, "").
		WillReturnResult(sqlmock.NewResult(0, 2))

	deleted, err := repo.DeleteByKey(context.Background(), nil, models.TimetableKey{Year: 3, Semester: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryLoadMissingReturnsEmpty(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT version, payload, updated_at FROM occupancy_ledgers WHERE name = $1")).
		WithArgs(LedgerName).
		WillReturnError(sql.ErrNoRows)

	snapshot, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snapshot.Version)
	assert.Zero(t, snapshot.Instructors.Len())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryLoadDecodesPayload(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	payload := `{"instructors":{"Monday":{"9:30 - 10:30":["Dr. Rao"]}},"rooms":{"Friday":{"4:30 - 5:30":["R101"]}},"labs":{}}`
	mock.ExpectQuery(regexp.QuoteMeta("FROM occupancy_ledgers")).
		WithArgs(LedgerName).
		WillReturnRows(sqlmock.NewRows([]string{"version", "payload", "updated_at"}).AddRow(int64(7), payload, time.Now()))

	snapshot, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), snapshot.Version)
	assert.True(t, snapshot.Instructors.Has(0, 0, "Dr. Rao"))
	assert.True(t, snapshot.Rooms.Has(4, 6, "R101"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositorySaveCompareAndSwap(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO occupancy_ledgers")).
		WithArgs(LedgerName, int64(1), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE name = $4 AND version = $5")).
		WithArgs(int64(2), sqlmock.AnyArg(), sqlmock.AnyArg(), LedgerName, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	snapshot := &models.LedgerSnapshot{}
	snapshot.Instructors.Add(1, 1, "Dr. Rao")
	require.NoError(t, repo.Save(context.Background(), nil, snapshot, 0))
	assert.Equal(t, int64(1), snapshot.Version)

	err := repo.Save(context.Background(), nil, snapshot, 1)
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, int64(1), snapshot.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerationStoreRollsBackOnLedgerConflict(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	store := NewGenerationStore(db, NewTimetableRepository(db), NewLedgerRepository(db))

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO timetables").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("tt-1"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM timetables WHERE year = $1 AND semester = $2 AND specialization = $3 AND batch > $4")).
		WithArgs(3, 5, "", 1).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE occupancy_ledgers").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	timetables := []models.Timetable{{Year: 3, Semester: 5, Batch: 1}}
	err := store.Commit(context.Background(), timetables, &models.LedgerSnapshot{}, 4)

	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerationStoreCommitDropsStaleBatches(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	store := NewGenerationStore(db, NewTimetableRepository(db), NewLedgerRepository(db))

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO timetables").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("tt-1"))
	mock.ExpectQuery("INSERT INTO timetables").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("tt-2"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM timetables WHERE year = $1 AND semester = $2 AND specialization = $3 AND batch > $4")).
		WithArgs(3, 5, "", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE occupancy_ledgers").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	snapshot := &models.LedgerSnapshot{Version: 4}
	timetables := []models.Timetable{{Year: 3, Semester: 5, Batch: 1}, {Year: 3, Semester: 5, Batch: 2}}
	require.NoError(t, store.Commit(context.Background(), timetables, snapshot, 4))

	assert.Equal(t, "tt-2", timetables[1].ID)
	assert.Equal(t, int64(5), snapshot.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerationStoreRemove(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	store := NewGenerationStore(db, NewTimetableRepository(db), NewLedgerRepository(db))

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM timetables").
		WithArgs(3, 5, "AI").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE occupancy_ledgers").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	deleted, err := store.Remove(context.Background(), models.TimetableKey{Year: 3, Semester: 5, Specialization: "AI"}, &models.LedgerSnapshot{}, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
