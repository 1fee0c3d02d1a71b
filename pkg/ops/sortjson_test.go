package ops

import (
	"context"
	"encoding/json"
	"testing"
)

func TestSortJSONByKeys(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seed(t, "contacts.json", `[
		{"first_name":"Bob","last_name":"Smith","age":40},
		{"first_name":"Ann","last_name":"Jones","age":30},
		{"first_name":"Cid","last_name":"Jones","age":25}
	]`)

	res := run(t, NewSortJSON(), env, map[string]any{
		"input":  "contacts.json",
		"keys":   "last_name, first_name",
		"output": "contacts-sorted.json",
	})
	if res.Value != 3 {
		t.Fatalf("expected 3 items, got %v", res.Value)
	}

	var sorted []map[string]any
	if err := json.Unmarshal([]byte(env.read(t, "contacts-sorted.json")), &sorted); err != nil {
		t.Fatalf("parse output: %v", err)
	}
	if sorted[0]["first_name"] != "Ann" || sorted[1]["first_name"] != "Cid" || sorted[2]["first_name"] != "Bob" {
		t.Fatalf("unexpected order %v", sorted)
	}
}

func TestSortJSONNumericKey(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seed(t, "items.json", `[{"n":10},{"n":2},{"n":33}]`)

	run(t, NewSortJSON(), env, map[string]any{
		"input":  "items.json",
		"keys":   "n",
		"output": "sorted.json",
	})

	var sorted []map[string]float64
	if err := json.Unmarshal([]byte(env.read(t, "sorted.json")), &sorted); err != nil {
		t.Fatalf("parse output: %v", err)
	}
	if sorted[0]["n"] != 2 || sorted[2]["n"] != 33 {
		t.Fatalf("numbers sorted lexically: %v", sorted)
	}
}

func TestSortJSONRejectsNonArray(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seed(t, "data.json", `{"not":"an array"}`)

	_, err := NewSortJSON().Execute(context.Background(), env, map[string]any{
		"input":  "data.json",
		"keys":   "x",
		"output": "out.json",
	})
	if err == nil {
		t.Fatalf("expected error for non-array input")
	}
}
