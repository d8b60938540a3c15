package store

import (
	"context"
	"path/filepath"
	"testing"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestTable creates a table with Name, Age, Alive and Info columns.
func createTestTable(t *testing.T, s *Store, id string, limit int) *Table {
	t.Helper()
	tbl, err := s.Table(context.Background(), id, []Field{
		{"Name", TypeText},
		{"Age", TypeInteger},
		{"Alive", TypeBoolean},
		{"Info", TypeJSON},
	}, limit)
	if err != nil {
		t.Fatalf("Table() failed: %v", err)
	}
	return tbl
}
