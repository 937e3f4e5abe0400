// Package testutil provides shared helpers for tests that need a real
// migrated database or a standard category catalog.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cardamom-hq/cardamom/internal/model"
	"github.com/cardamom-hq/cardamom/internal/storage"
)

// SetupTestDB creates a migrated SQLite database in a test temp dir.
// Cleanup is registered automatically.
func SetupTestDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

// Categories returns the catalog used across tests.
func Categories() []model.Category {
	return []model.Category{
		{ID: 1, Name: "Groceries"},
		{ID: 2, Name: "Dining"},
		{ID: 3, Name: "Transport"},
		{ID: 4, Name: "Shopping"},
		{ID: 5, Name: "Utilities"},
	}
}
