package testutil

import (
	"testing"

	"flightdeck/internal/database"
	"flightdeck/internal/database/migrations"
	"flightdeck/internal/deck"
)

// NewTestStore creates a new in-memory SQLite store with migrations applied.
// The store is automatically closed when the test completes.
func NewTestStore(t *testing.T, clock deck.Clock) *database.SQLiteStore {
	t.Helper()

	sqlDB, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := migrations.MigrateUp(sqlDB); err != nil {
		sqlDB.Close()
		t.Fatalf("failed to apply migrations: %v", err)
	}

	if clock == nil {
		clock = FixedClock()
	}
	store := database.NewSQLiteStoreFromDB(sqlDB, clock, NewStubIDGenerator())

	t.Cleanup(func() {
		store.Close()
	})

	return store
}
