package ops

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

func seedDatabase(t *testing.T, env *testEnv) {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(env.root.Dir(), "products.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE products (id INTEGER PRIMARY KEY, name TEXT, price REAL)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO products (name, price) VALUES ('Laptop', 1500), ('Phone', 800)`); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestRunSQLQuery(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	seedDatabase(t, env)

	res := run(t, NewRunSQL(), env, map[string]any{
		"database": "products.db",
		"query":    "SELECT name, price FROM products WHERE price > 1000",
	})
	rows, ok := res.Value.([]map[string]any)
	if !ok || len(rows) != 1 {
		t.Fatalf("expected 1 row, got %v", res.Value)
	}
	if rows[0]["name"] != "Laptop" {
		t.Fatalf("unexpected row %v", rows[0])
	}
}

func TestRunSQLWritesArtifact(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	seedDatabase(t, env)

	res := run(t, NewRunSQL(), env, map[string]any{
		"database": "products.db",
		"query":    "SELECT COUNT(*) AS n FROM products",
		"output":   "count.json",
	})
	if res.Artifact != "count.json" {
		t.Fatalf("expected artifact, got %q", res.Artifact)
	}
	if got := env.read(t, "count.json"); !strings.Contains(got, `"n"`) {
		t.Fatalf("unexpected artifact %q", got)
	}
}

func TestRunSQLRejectsOtherDialect(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	seedDatabase(t, env)

	_, err := NewRunSQL().Execute(context.Background(), env, map[string]any{
		"database": "products.db",
		"query":    "SELECT 1",
		"dialect":  "duckdb",
	})
	if err == nil || !strings.Contains(err.Error(), "dialect") {
		t.Fatalf("expected dialect error, got %v", err)
	}
}

func TestRunSQLBadQuery(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	seedDatabase(t, env)

	_, err := NewRunSQL().Execute(context.Background(), env, map[string]any{
		"database": "products.db",
		"query":    "SELECT * FROM missing_table",
	})
	if err == nil {
		t.Fatalf("expected query failure")
	}
}
