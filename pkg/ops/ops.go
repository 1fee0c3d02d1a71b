// Package ops implements the operation catalog's handlers: one task family
// per file, each declaring its parameter schema and least-privilege
// capability set.
package ops

import (
	"fmt"
	"strings"

	"github.com/taskpilot/taskpilot/pkg/catalog"
)

// Remote configures the external collaborators reached over HTTP: the
// completion, embedding and transcription endpoints behind the AI proxy.
type Remote struct {
	BaseURL    string
	APIKey     string
	Model      string
	EmbedModel string
}

// Settings carries handler construction options.
type Settings struct {
	Remote Remote
	// FormatCommand is the external markdown formatter invocation, e.g.
	// ["npx", "prettier", "--parser", "markdown"].
	FormatCommand []string
}

// Register adds every supported operation to reg and seals it. The catalog
// deliberately contains no deletion operation.
func Register(reg *catalog.Registry, settings Settings) {
	reg.Register(NewFormatMarkdown(settings.FormatCommand))
	reg.Register(NewSortJSON())
	reg.Register(NewCountDates())
	reg.Register(NewIndexMarkdown())
	reg.Register(NewRecentLogs())
	reg.Register(NewExtractText(settings.Remote))
	reg.Register(NewExtractImageText(settings.Remote))
	reg.Register(NewSimilarComments(settings.Remote))
	reg.Register(NewRunSQL())
	reg.Register(NewTranscribeAudio(settings.Remote))
	reg.Register(NewMarkdownToHTML())
	reg.Register(NewFetchAPI())
	reg.Register(NewScrapeWebsite())
	reg.Register(NewGitCloneCommit())
	reg.Register(NewImageResize())
	reg.Register(NewFilterCSV())
	reg.Seal()
}

func stringParam(params map[string]any, name string) string {
	v, _ := params[name].(string)
	return strings.TrimSpace(v)
}

func intParam(params map[string]any, name string, fallback int) int {
	switch v := params[name].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func boolParam(params map[string]any, name string) bool {
	v, _ := params[name].(bool)
	return v
}

func mapParam(params map[string]any, name string) map[string]string {
	switch v := params[name].(type) {
	case map[string]string:
		return v
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, item := range v {
			if s, ok := item.(string); ok {
				out[k] = s
			}
		}
		return out
	default:
		return nil
	}
}

func pairParam(params map[string]any, name string) ([2]int, bool) {
	switch v := params[name].(type) {
	case [2]int:
		return v, true
	case []any:
		if len(v) != 2 {
			return [2]int{}, false
		}
		var out [2]int
		for i, item := range v {
			n, ok := item.(float64)
			if !ok {
				return [2]int{}, false
			}
			out[i] = int(n)
		}
		return out, true
	default:
		return [2]int{}, false
	}
}

func requireString(params map[string]any, name string) (string, error) {
	v := stringParam(params, name)
	if v == "" {
		return "", fmt.Errorf("parameter %q is required", name)
	}
	return v, nil
}
