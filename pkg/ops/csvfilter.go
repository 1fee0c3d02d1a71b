package ops

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/taskpilot/taskpilot/pkg/catalog"
)

type filterCSV struct{}

// NewFilterCSV keeps CSV rows matching all equality filters and writes them
// as JSON.
func NewFilterCSV() catalog.Operation { return filterCSV{} }

func (filterCSV) Spec() catalog.Spec {
	return catalog.Spec{
		ID:          "filter_csv",
		Description: "Filter a CSV file by column equality and write the matching rows as a JSON array.",
		Caps:        catalog.CapSet{catalog.CapRead, catalog.CapWrite},
		Params: []catalog.Param{
			{Name: "input", Type: catalog.TypePath, Required: true, Description: "CSV file with a header row"},
			{Name: "filters", Type: catalog.TypeStringMap, Required: true, Description: "Column name to required value"},
			{Name: "output", Type: catalog.TypePath, Required: true, Description: "Where to write the matching rows"},
		},
	}
}

func (filterCSV) Execute(ctx context.Context, env catalog.Env, params map[string]any) (*catalog.Result, error) {
	input, err := requireString(params, "input")
	if err != nil {
		return nil, err
	}
	output, err := requireString(params, "output")
	if err != nil {
		return nil, err
	}
	filters := mapParam(params, "filters")
	if len(filters) == 0 {
		return nil, fmt.Errorf("at least one filter is required")
	}

	data, err := env.ReadFile(input)
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(bytes.NewReader(data))
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}
	for column := range filters {
		if indexOf(header, column) < 0 {
			return nil, fmt.Errorf("filter column %q not in header", column)
		}
	}

	rows := make([]map[string]string, 0)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV row: %w", err)
		}
		row := make(map[string]string, len(header))
		for i, column := range header {
			if i < len(record) {
				row[column] = record[i]
			}
		}
		matches := true
		for column, want := range filters {
			if row[column] != want {
				matches = false
				break
			}
		}
		if matches {
			rows = append(rows, row)
		}
	}

	encoded, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("encode rows: %w", err)
	}
	if err := env.Put(output, bytes.NewReader(encoded)); err != nil {
		return nil, err
	}
	return &catalog.Result{Value: rows, Artifact: output}, nil
}

func indexOf(list []string, s string) int {
	for i, item := range list {
		if item == s {
			return i
		}
	}
	return -1
}
