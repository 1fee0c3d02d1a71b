package ops

import (
	"context"
	"encoding/json"
	"testing"
)

const peopleCSV = "name,age,city\nAlice,30,New York\nBob,25,Los Angeles\nCharlie,35,Chicago\n"

func TestFilterCSVMatchesRow(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seed(t, "people.csv", peopleCSV)

	res := run(t, NewFilterCSV(), env, map[string]any{
		"input":   "people.csv",
		"filters": map[string]string{"city": "Chicago"},
		"output":  "filtered.json",
	})
	rows, ok := res.Value.([]map[string]string)
	if !ok || len(rows) != 1 || rows[0]["name"] != "Charlie" {
		t.Fatalf("unexpected rows %v", res.Value)
	}

	var persisted []map[string]string
	if err := json.Unmarshal([]byte(env.read(t, "filtered.json")), &persisted); err != nil {
		t.Fatalf("parse artifact: %v", err)
	}
	if len(persisted) != 1 || persisted[0]["city"] != "Chicago" {
		t.Fatalf("unexpected artifact %v", persisted)
	}
}

func TestFilterCSVNoMatchesWritesEmptyArray(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seed(t, "people.csv", peopleCSV)

	run(t, NewFilterCSV(), env, map[string]any{
		"input":   "people.csv",
		"filters": map[string]string{"city": "Atlantis"},
		"output":  "none.json",
	})
	if got := env.read(t, "none.json"); got != "[]" {
		t.Fatalf("expected empty JSON array, got %q", got)
	}
}

func TestFilterCSVUnknownColumn(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seed(t, "people.csv", peopleCSV)

	_, err := NewFilterCSV().Execute(context.Background(), env, map[string]any{
		"input":   "people.csv",
		"filters": map[string]string{"country": "US"},
		"output":  "out.json",
	})
	if err == nil {
		t.Fatalf("expected error for unknown filter column")
	}
}
