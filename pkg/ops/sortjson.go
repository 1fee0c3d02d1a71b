package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/taskpilot/taskpilot/pkg/catalog"
)

type sortJSON struct{}

// NewSortJSON sorts a JSON array of objects by one or more keys and writes
// the sorted array.
func NewSortJSON() catalog.Operation { return sortJSON{} }

func (sortJSON) Spec() catalog.Spec {
	return catalog.Spec{
		ID:          "sort_json",
		Description: "Sort a JSON array of objects by the given comma-separated keys and write the sorted array.",
		Caps:        catalog.CapSet{catalog.CapRead, catalog.CapWrite},
		Params: []catalog.Param{
			{Name: "input", Type: catalog.TypePath, Required: true, Description: "JSON file containing an array of objects"},
			{Name: "keys", Type: catalog.TypeString, Required: true, Description: "Sort keys in priority order, comma separated"},
			{Name: "output", Type: catalog.TypePath, Required: true, Description: "Where to write the sorted array"},
		},
	}
}

func (sortJSON) Execute(ctx context.Context, env catalog.Env, params map[string]any) (*catalog.Result, error) {
	input, err := requireString(params, "input")
	if err != nil {
		return nil, err
	}
	output, err := requireString(params, "output")
	if err != nil {
		return nil, err
	}
	rawKeys, err := requireString(params, "keys")
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, k := range strings.Split(rawKeys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no sort keys given")
	}

	data, err := env.ReadFile(input)
	if err != nil {
		return nil, err
	}
	var items []map[string]any
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse %s: expected a JSON array of objects: %w", input, err)
	}

	sort.SliceStable(items, func(i, j int) bool {
		for _, key := range keys {
			c := compareValues(items[i][key], items[j][key])
			if c != 0 {
				return c < 0
			}
		}
		return false
	})

	encoded, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode sorted array: %w", err)
	}
	if err := env.Put(output, bytes.NewReader(encoded)); err != nil {
		return nil, err
	}
	return &catalog.Result{Value: len(items), Artifact: output}, nil
}

func compareValues(a, b any) int {
	af, aIsNum := a.(float64)
	bf, bIsNum := b.(float64)
	if aIsNum && bIsNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
