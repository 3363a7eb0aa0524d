package migrations

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

func openDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite3", "file:"+filepath.Join(t.TempDir(), "m.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestParseFileName(t *testing.T) {
	tests := []struct {
		file    string
		version int
		name    string
		up      bool
		ok      bool
	}{
		{"0001_create_posts.up.sql", 1, "create_posts", true, true},
		{"0002_index_published_date.down.sql", 2, "index_published_date", false, true},
		{"create_posts.up.sql", 0, "", false, false},
		{"0003_notes.sql", 0, "", false, false},
		{"0000_zero.up.sql", 0, "", false, false},
		{"README.md", 0, "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			version, name, up, ok := parseFileName(tt.file)
			if version != tt.version || name != tt.name || up != tt.up || ok != tt.ok {
				t.Errorf("parseFileName(%q) = %d, %q, %v, %v", tt.file, version, name, up, ok)
			}
		})
	}
}

func TestLoadEmbedded(t *testing.T) {
	set, err := LoadMigrations(Embedded())
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(set) < 2 {
		t.Fatalf("loaded %d migrations, want at least 2", len(set))
	}
	for i, m := range set {
		if m.Up == "" || m.Down == "" {
			t.Errorf("migration %d is missing a script", m.Version)
		}
		if i > 0 && set[i-1].Version >= m.Version {
			t.Errorf("migrations out of order at %d", m.Version)
		}
	}
}

func TestLoadRejectsMissingUp(t *testing.T) {
	fsys := fstest.MapFS{
		"0001_only_down.down.sql": {Data: []byte("DROP TABLE x;")},
	}
	if _, err := LoadMigrations(fsys); err == nil {
		t.Error("LoadMigrations() error = nil, want missing up script error")
	}
}

func TestRunAndRollback(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	set, err := LoadMigrations(Embedded())
	if err != nil {
		t.Fatal(err)
	}

	if err := RunMigrations(ctx, db, set); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	// Second run is a no-op.
	if err := RunMigrations(ctx, db, set); err != nil {
		t.Fatalf("repeated RunMigrations() error = %v", err)
	}

	applied, err := Applied(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != len(set) {
		t.Fatalf("applied %v, want %d versions", applied, len(set))
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO posts (post_id) VALUES ('1')`); err != nil {
		t.Fatalf("posts table not usable: %v", err)
	}

	if err := RollbackMigrations(ctx, db, set, len(set)); err != nil {
		t.Fatalf("RollbackMigrations() error = %v", err)
	}
	applied, err = Applied(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != 0 {
		t.Errorf("applied after rollback = %v, want none", applied)
	}
	if _, err := db.ExecContext(ctx, `SELECT 1 FROM posts`); err == nil {
		t.Error("posts table still exists after full rollback")
	}
}

func TestFailedMigrationIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	set := []Migration{
		{Version: 1, Name: "ok", Up: "CREATE TABLE a (id INTEGER);"},
		{Version: 2, Name: "broken", Up: "CREATE TABLE;"},
	}
	if err := RunMigrations(ctx, db, set); err == nil {
		t.Fatal("RunMigrations() error = nil, want failure")
	}
	applied, err := Applied(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != 1 || applied[0] != 1 {
		t.Errorf("applied = %v, want [1]", applied)
	}
}
