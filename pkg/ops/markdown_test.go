package ops

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestMarkdownToHTMLInlineText(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	res := run(t, NewMarkdownToHTML(), env, map[string]any{
		"text":   "# Title\n\n- **Item 1**: with `inline code`\n- [Link](https://example.com)\n",
		"output": "out.html",
	})
	html, _ := res.Value.(string)
	if !strings.Contains(html, "<strong>Item 1</strong>") {
		t.Fatalf("expected bold item in html, got %q", html)
	}
	if !strings.Contains(html, "<h1>Title</h1>") {
		t.Fatalf("expected h1 in html, got %q", html)
	}
	if got := env.read(t, "out.html"); got != html {
		t.Fatalf("artifact differs from returned html")
	}
}

func TestMarkdownToHTMLFromFile(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seed(t, "doc.md", "## Section\n\nplain text\n")

	res := run(t, NewMarkdownToHTML(), env, map[string]any{
		"input":  "doc.md",
		"output": "doc.html",
	})
	if html, _ := res.Value.(string); !strings.Contains(html, "<h2>Section</h2>") {
		t.Fatalf("unexpected html %q", res.Value)
	}
}

func TestMarkdownToHTMLNeedsSource(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	_, err := NewMarkdownToHTML().Execute(context.Background(), env, map[string]any{"output": "x.html"})
	if err == nil {
		t.Fatalf("expected error without input or text")
	}
}

func TestIndexMarkdown(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seed(t, "docs/a.md", "# Alpha\n\ntext\n")
	env.seed(t, "docs/nested/b.md", "intro line\n\n# Beta Title\n")
	env.seed(t, "docs/noheading.md", "just text\n")
	env.seed(t, "docs/skip.txt", "# Not markdown\n")

	res := run(t, NewIndexMarkdown(), env, map[string]any{
		"dir":    "docs",
		"output": "index.json",
	})
	if res.Value != 2 {
		t.Fatalf("expected 2 indexed files, got %v", res.Value)
	}

	var index map[string]string
	if err := json.Unmarshal([]byte(env.read(t, "index.json")), &index); err != nil {
		t.Fatalf("parse index: %v", err)
	}
	if index["a.md"] != "Alpha" || index["nested/b.md"] != "Beta Title" {
		t.Fatalf("unexpected index %v", index)
	}
	if _, ok := index["noheading.md"]; ok {
		t.Fatalf("file without heading must not be indexed")
	}
}
