package ops

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/taskpilot/taskpilot/pkg/catalog"
)

type recentLogs struct{}

// NewRecentLogs writes the first line of the N most recently modified .log
// files in a directory, most recent first.
func NewRecentLogs() catalog.Operation { return recentLogs{} }

func (recentLogs) Spec() catalog.Spec {
	return catalog.Spec{
		ID:          "recent_logs",
		Description: "Write the first line of the most recently modified .log files in a directory, most recent first.",
		Caps:        catalog.CapSet{catalog.CapRead, catalog.CapWrite},
		Params: []catalog.Param{
			{Name: "dir", Type: catalog.TypePath, Required: true, Description: "Directory containing .log files"},
			{Name: "count", Type: catalog.TypeInt, Default: 10, Description: "How many files to include"},
			{Name: "output", Type: catalog.TypePath, Required: true, Description: "Where to write the aggregated lines"},
		},
	}
}

func (recentLogs) Execute(ctx context.Context, env catalog.Env, params map[string]any) (*catalog.Result, error) {
	dir, err := requireString(params, "dir")
	if err != nil {
		return nil, err
	}
	output, err := requireString(params, "output")
	if err != nil {
		return nil, err
	}
	count := intParam(params, "count", 10)
	if count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", count)
	}

	dirAbs, err := env.PathFor(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dirAbs)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	type logFile struct {
		name    string
		modTime int64
	}
	var logs []logFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		logs = append(logs, logFile{name: entry.Name(), modTime: info.ModTime().UnixNano()})
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].modTime > logs[j].modTime })
	if len(logs) > count {
		logs = logs[:count]
	}

	var lines []string
	for _, lf := range logs {
		// Re-guard each entry: a symlinked .log file must not read outside
		// the sandbox.
		abs, err := env.PathFor(filepath.Join(dir, lf.name))
		if err != nil {
			return nil, err
		}
		first, err := firstLine(abs)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", lf.name, err)
		}
		lines = append(lines, first)
	}

	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	if err := env.Put(output, strings.NewReader(content)); err != nil {
		return nil, err
	}
	return &catalog.Result{Value: len(lines), Artifact: output}, nil
}

func firstLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	return "", scanner.Err()
}
