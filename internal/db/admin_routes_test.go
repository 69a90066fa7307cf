package db

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
)

func TestAttachAdminRoutes_Backup(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "admin.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`INSERT INTO scenes (created_at, description, type_counts, spatial_histogram) VALUES (1, 'x', '{}', '[]')`); err != nil {
		t.Fatalf("Failed to insert scene: %v", err)
	}

	mux := http.NewServeMux()
	if err := db.AttachAdminRoutes(mux); err != nil {
		t.Fatalf("AttachAdminRoutes failed: %v", err)
	}

	// tsweb's debugger only serves loopback callers.
	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	gz, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("Backup is not gzip: %v", err)
	}
	data, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("Failed to read backup: %v", err)
	}
	if len(data) < 16 || string(data[:15]) != "SQLite format 3" {
		t.Errorf("Backup does not look like a SQLite database")
	}
}

func TestBackup(t *testing.T) {
	dir := t.TempDir()
	db, err := NewDB(filepath.Join(dir, "src.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	dest := filepath.Join(dir, "copy.db")
	if err := db.Backup(dest); err != nil {
		t.Fatalf("Backup failed: %v", err)
	}

	copyDB, err := OpenDB(dest)
	if err != nil {
		t.Fatalf("Failed to open backup: %v", err)
	}
	defer copyDB.Close()
	if !tableExists(t, copyDB, "scenes") {
		t.Error("backup is missing the scenes table")
	}
}
