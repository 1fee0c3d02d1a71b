package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/taskpilot/taskpilot/pkg/catalog"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var renderer = goldmark.New(goldmark.WithExtensions(extension.GFM))

type markdownToHTML struct{}

// NewMarkdownToHTML converts markdown (a sandbox file or inline text) to
// HTML.
func NewMarkdownToHTML() catalog.Operation { return markdownToHTML{} }

func (markdownToHTML) Spec() catalog.Spec {
	return catalog.Spec{
		ID:          "markdown_to_html",
		Description: "Convert a markdown file or inline markdown text to HTML.",
		Caps:        catalog.CapSet{catalog.CapRead, catalog.CapWrite},
		Params: []catalog.Param{
			{Name: "input", Type: catalog.TypePath, Description: "Markdown file to convert"},
			{Name: "text", Type: catalog.TypeString, Description: "Inline markdown, used when no input file is given"},
			{Name: "output", Type: catalog.TypePath, Required: true, Description: "Where to write the HTML"},
		},
	}
}

func (markdownToHTML) Execute(ctx context.Context, env catalog.Env, params map[string]any) (*catalog.Result, error) {
	output, err := requireString(params, "output")
	if err != nil {
		return nil, err
	}

	var source []byte
	if input := stringParam(params, "input"); input != "" {
		source, err = env.ReadFile(input)
		if err != nil {
			return nil, err
		}
	} else if text := stringParam(params, "text"); text != "" {
		source = []byte(text)
	} else {
		return nil, fmt.Errorf("either input or text is required")
	}

	var buf bytes.Buffer
	if err := renderer.Convert(source, &buf); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	if err := env.Put(output, bytes.NewReader(buf.Bytes())); err != nil {
		return nil, err
	}
	return &catalog.Result{Value: buf.String(), Artifact: output}, nil
}

type indexMarkdown struct{}

// NewIndexMarkdown maps each markdown file under a directory to its first H1
// heading and writes the index as JSON.
func NewIndexMarkdown() catalog.Operation { return indexMarkdown{} }

func (indexMarkdown) Spec() catalog.Spec {
	return catalog.Spec{
		ID:          "index_markdown",
		Description: "Build a JSON index mapping each markdown file in a directory tree to its first H1 heading.",
		Caps:        catalog.CapSet{catalog.CapRead, catalog.CapWrite},
		Params: []catalog.Param{
			{Name: "dir", Type: catalog.TypePath, Required: true, Description: "Directory to scan for .md files"},
			{Name: "output", Type: catalog.TypePath, Required: true, Description: "Where to write the JSON index"},
		},
	}
}

func (indexMarkdown) Execute(ctx context.Context, env catalog.Env, params map[string]any) (*catalog.Result, error) {
	dir, err := requireString(params, "dir")
	if err != nil {
		return nil, err
	}
	output, err := requireString(params, "output")
	if err != nil {
		return nil, err
	}

	dirAbs, err := env.PathFor(dir)
	if err != nil {
		return nil, err
	}

	index := make(map[string]string)
	err = filepath.WalkDir(dirAbs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		rel, err := filepath.Rel(dirAbs, path)
		if err != nil {
			return err
		}
		// Derived path goes back through the guard before reading.
		guarded, err := env.PathFor(filepath.Join(dir, rel))
		if err != nil {
			return err
		}
		data, err := os.ReadFile(guarded)
		if err != nil {
			return err
		}
		if title, ok := firstHeading(string(data)); ok {
			index[filepath.ToSlash(rel)] = title
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	encoded, err := json.Marshal(index)
	if err != nil {
		return nil, fmt.Errorf("encode index: %w", err)
	}
	if err := env.Put(output, bytes.NewReader(encoded)); err != nil {
		return nil, err
	}
	return &catalog.Result{Value: len(index), Artifact: output}, nil
}

func firstHeading(content string) (string, bool) {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, "# ")), true
		}
	}
	return "", false
}
