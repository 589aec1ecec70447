package storage_test

import (
	"context"
	"errors"
	"fitsedit/internal/storage"
	"path/filepath"
	"testing"
	"time"
)

func setupSQLite(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(filepath.Join(t.TempDir(), "backups.db"))
	if err != nil {
		t.Fatalf("Failed to create backup store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Failed to close backup store: %v", err)
		}
	})
	return s
}

func TestSQLite(t *testing.T) {
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		s := setupSQLite(t)
		loc := storage.NewBackupLocation()

		if err := s.WriteFile(ctx, loc, []byte{1, 2, 3}); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
		if err := s.WriteFile(ctx, loc, []byte{4, 5}); err != nil {
			t.Fatalf("overwrite failed: %v", err)
		}
		got, err := s.ReadFile(ctx, loc)
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		if len(got) != 2 || got[0] != 4 || got[1] != 5 {
			t.Errorf("Expected [4 5], got %v", got)
		}
	})

	t.Run("EmptyPayload", func(t *testing.T) {
		s := setupSQLite(t)
		loc := storage.NewBackupLocation()
		if err := s.WriteFile(ctx, loc, nil); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
		got, err := s.ReadFile(ctx, loc)
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("Expected empty non-nil payload, got %v", got)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s := setupSQLite(t)
		loc := storage.NewBackupLocation()
		s.WriteFile(ctx, loc, []byte("x"))

		if err := s.Delete(ctx, loc); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := s.ReadFile(ctx, loc); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound after delete, got %v", err)
		}
		if err := s.Delete(ctx, loc); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound on second delete, got %v", err)
		}
	})

	t.Run("WrongScheme", func(t *testing.T) {
		s := setupSQLite(t)
		if err := s.WriteFile(ctx, "file:///tmp/x", []byte("x")); err == nil {
			t.Error("Expected error for file location")
		}
	})

	t.Run("Prune", func(t *testing.T) {
		s := setupSQLite(t)
		for i := 0; i < 3; i++ {
			s.WriteFile(ctx, storage.NewBackupLocation(), []byte("x"))
		}

		n, err := s.Prune(ctx, time.Now().Add(-time.Hour))
		if err != nil {
			t.Fatalf("Prune failed: %v", err)
		}
		if n != 0 {
			t.Errorf("Expected nothing pruned, got %d", n)
		}

		n, err = s.Prune(ctx, time.Now().Add(time.Hour))
		if err != nil {
			t.Fatalf("Prune failed: %v", err)
		}
		if n != 3 {
			t.Errorf("Expected 3 pruned, got %d", n)
		}
	})
}
