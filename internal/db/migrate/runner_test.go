package migrate

import (
	"errors"
	"path/filepath"
	"testing"

	"stepup-challenge/internal/db"
)

func TestRun_EmptyDSN(t *testing.T) {
	err := Run("", "up")
	if err == nil {
		t.Fatal("Run with empty DSN should return error")
	}
	want := "DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL"
	if err.Error() != want {
		t.Errorf("error message = %q, want %q", err.Error(), want)
	}
}

func TestRun_InvalidDirection(t *testing.T) {
	testCases := []struct {
		name      string
		direction string
	}{
		{"empty", ""},
		{"invalid", "invalid"},
		{"upcase", "UP"},
		{"mixed", "Up"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Run("postgres://localhost/test", tc.direction)
			if err == nil {
				t.Fatalf("Run with direction %q should return error", tc.direction)
			}
		})
	}
}

func TestRun_InvalidDSN(t *testing.T) {
	testCases := []struct {
		name string
		dsn  string
	}{
		{"invalid format", "invalid-dsn"},
		{"missing driver", "://localhost/test"},
		{"spaces", "postgres://localhost with spaces/test"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := Run(tc.dsn, "up"); err == nil {
				t.Errorf("Run with invalid DSN %q should return error", tc.dsn)
			}
		})
	}
}

func TestSourceDir(t *testing.T) {
	testCases := []struct {
		dsn  string
		want string
	}{
		{"sqlite3:///tmp/x.db", "migrations/sqlite"},
		{"postgres://localhost/db", "migrations/postgres"},
		{"postgresql://localhost/db", "migrations/postgres"},
	}
	for _, tc := range testCases {
		if got := SourceDir(tc.dsn); got != tc.want {
			t.Errorf("SourceDir(%q) = %q, want %q", tc.dsn, got, tc.want)
		}
	}
}

func TestErrNoChange(t *testing.T) {
	if ErrNoChange == nil {
		t.Fatal("ErrNoChange should not be nil")
	}
	if !errors.Is(ErrNoChange, ErrNoChange) {
		t.Error("ErrNoChange should be errors.Is compatible")
	}
}

func TestRun_SQLiteUpDown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stepup.db")
	url := db.SQLiteMigrateURL(path)

	if err := Run(url, "up"); err != nil {
		t.Fatalf("Run up: %v", err)
	}
	// Second up is a no-op and must not surface ErrNoChange.
	if err := Run(url, "up"); err != nil {
		t.Fatalf("Run up again: %v", err)
	}

	conn, err := db.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	for _, table := range []string{"attempt_records", "approval_cursors"} {
		var name string
		if err := conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name); err != nil {
			t.Errorf("table %s missing after up: %v", table, err)
		}
	}
	conn.Close()

	if err := Run(url, "down"); err != nil {
		t.Fatalf("Run down: %v", err)
	}
}
