package ops

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/taskpilot/taskpilot/pkg/catalog"

	_ "modernc.org/sqlite"
)

type runSQL struct{}

// NewRunSQL executes a read-only query against an embedded SQLite database
// inside the sandbox.
func NewRunSQL() catalog.Operation { return runSQL{} }

func (runSQL) Spec() catalog.Spec {
	return catalog.Spec{
		ID:          "run_sql",
		Description: "Run a read-only SQL query against a SQLite database file and write the rows as JSON.",
		Caps:        catalog.CapSet{catalog.CapRead, catalog.CapWrite},
		Params: []catalog.Param{
			{Name: "database", Type: catalog.TypePath, Required: true, Description: "SQLite database file"},
			{Name: "query", Type: catalog.TypeString, Required: true, Description: "SQL query to execute"},
			{Name: "dialect", Type: catalog.TypeString, Default: "sqlite", Enum: []string{"sqlite"}, Description: "SQL engine"},
			{Name: "output", Type: catalog.TypePath, Description: "Optional file for the result rows"},
		},
	}
}

func (runSQL) Execute(ctx context.Context, env catalog.Env, params map[string]any) (*catalog.Result, error) {
	database, err := requireString(params, "database")
	if err != nil {
		return nil, err
	}
	query, err := requireString(params, "query")
	if err != nil {
		return nil, err
	}
	if dialect := stringParam(params, "dialect"); dialect != "" && dialect != "sqlite" {
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	abs, err := env.PathFor(database)
	if err != nil {
		return nil, err
	}

	// mode=ro keeps the query operation within its declared read effect on
	// the database file itself.
	dsn := "file:" + abs + "?mode=ro"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", database, err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	results := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			if b, ok := values[i].([]byte); ok {
				row[column] = string(b)
			} else {
				row[column] = values[i]
			}
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	result := &catalog.Result{Value: results}
	if output := stringParam(params, "output"); output != "" {
		encoded, err := json.Marshal(results)
		if err != nil {
			return nil, fmt.Errorf("encode rows: %w", err)
		}
		if err := env.Put(output, bytes.NewReader(encoded)); err != nil {
			return nil, err
		}
		result.Artifact = output
	}
	return result, nil
}
