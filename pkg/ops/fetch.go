package ops

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/taskpilot/taskpilot/pkg/catalog"
)

// maxFetchBytes caps how much of a remote response is persisted.
const maxFetchBytes = 16 << 20

type fetchAPI struct{}

// NewFetchAPI fetches a URL and persists the response as json, csv or raw
// text.
func NewFetchAPI() catalog.Operation { return fetchAPI{} }

func (fetchAPI) Spec() catalog.Spec {
	return catalog.Spec{
		ID:          "fetch_api",
		Description: "Fetch data from an external API and save the response into the working directory.",
		Caps:        catalog.CapSet{catalog.CapWrite, catalog.CapNetwork},
		Params: []catalog.Param{
			{Name: "url", Type: catalog.TypeString, Required: true, Description: "API URL to call"},
			{Name: "method", Type: catalog.TypeString, Default: "GET", Enum: []string{"GET", "POST", "PUT"}, Description: "HTTP method"},
			{Name: "body", Type: catalog.TypeString, Description: "JSON request body for POST/PUT"},
			{Name: "output", Type: catalog.TypePath, Required: true, Description: "Where to save the response"},
			{Name: "format", Type: catalog.TypeString, Default: "json", Enum: []string{"json", "csv", "raw"}, Description: "How to persist the response"},
		},
	}
}

func (fetchAPI) Execute(ctx context.Context, env catalog.Env, params map[string]any) (*catalog.Result, error) {
	rawURL, err := requireString(params, "url")
	if err != nil {
		return nil, err
	}
	output, err := requireString(params, "output")
	if err != nil {
		return nil, err
	}
	method := stringParam(params, "method")
	if method == "" {
		method = http.MethodGet
	}
	format := stringParam(params, "format")
	if format == "" {
		format = "json"
	}

	client, err := env.HTTPClient()
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if b := stringParam(params, "body"); b != "" {
		if method == http.MethodGet {
			return nil, fmt.Errorf("GET requests take no body")
		}
		body = strings.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: %s", rawURL, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	content, err := renderFetched(data, format)
	if err != nil {
		return nil, err
	}
	if err := env.Put(output, bytes.NewReader(content)); err != nil {
		return nil, err
	}
	return &catalog.Result{Value: len(content), Artifact: output}, nil
}

func renderFetched(data []byte, format string) ([]byte, error) {
	switch format {
	case "raw":
		return data, nil

	case "json":
		var parsed any
		if err := json.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("response is not valid JSON: %w", err)
		}
		return json.MarshalIndent(parsed, "", "  ")

	case "csv":
		var items []map[string]any
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("csv output needs a JSON array of objects: %w", err)
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("csv output needs a non-empty JSON array")
		}
		header := make([]string, 0, len(items[0]))
		for key := range items[0] {
			header = append(header, key)
		}
		sort.Strings(header)

		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.Write(header); err != nil {
			return nil, err
		}
		for _, item := range items {
			record := make([]string, len(header))
			for i, key := range header {
				record[i] = fmt.Sprint(item[key])
			}
			if err := w.Write(record); err != nil {
				return nil, err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}
