package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/taskpilot/taskpilot/pkg/catalog"
	"golang.org/x/net/html"
)

type scrapeWebsite struct{}

// NewScrapeWebsite fetches a page and extracts the text of every node
// matching a simple CSS selector (tag, .class, #id, and descendant chains).
func NewScrapeWebsite() catalog.Operation { return scrapeWebsite{} }

func (scrapeWebsite) Spec() catalog.Spec {
	return catalog.Spec{
		ID:          "scrape_website",
		Description: "Fetch a web page and save the text of every element matching a CSS selector.",
		Caps:        catalog.CapSet{catalog.CapWrite, catalog.CapNetwork},
		Params: []catalog.Param{
			{Name: "url", Type: catalog.TypeString, Required: true, Description: "Page URL"},
			{Name: "selector", Type: catalog.TypeString, Required: true, Description: "CSS selector: tag, .class, #id, or a descendant chain"},
			{Name: "output", Type: catalog.TypePath, Required: true, Description: "Where to write the extracted texts as JSON"},
		},
	}
}

func (scrapeWebsite) Execute(ctx context.Context, env catalog.Env, params map[string]any) (*catalog.Result, error) {
	rawURL, err := requireString(params, "url")
	if err != nil {
		return nil, err
	}
	selectorExpr, err := requireString(params, "selector")
	if err != nil {
		return nil, err
	}
	output, err := requireString(params, "output")
	if err != nil {
		return nil, err
	}

	sel, err := parseSelector(selectorExpr)
	if err != nil {
		return nil, err
	}

	client, err := env.HTTPClient()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: %s", rawURL, resp.Status)
	}

	texts, err := extractTexts(io.LimitReader(resp.Body, maxFetchBytes), sel)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(texts)
	if err != nil {
		return nil, fmt.Errorf("encode texts: %w", err)
	}
	if err := env.Put(output, bytes.NewReader(encoded)); err != nil {
		return nil, err
	}
	return &catalog.Result{Value: texts, Artifact: output}, nil
}

func extractTexts(r io.Reader, sel selector) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}
	texts := make([]string, 0)
	var walk func(n *html.Node, ancestors []*html.Node)
	walk = func(n *html.Node, ancestors []*html.Node) {
		if n.Type == html.ElementNode && sel.matches(n, ancestors) {
			texts = append(texts, strings.TrimSpace(nodeText(n)))
		}
		next := append(ancestors, n)
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, next)
		}
	}
	walk(doc, nil)
	return texts, nil
}

func nodeText(n *html.Node) string {
	var buf bytes.Buffer
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(buf.String()), " ")
}

// selector is a descendant chain of simple steps. "div.card h2" matches h2
// elements with a div.card ancestor.
type selector struct {
	steps []selectorStep
}

type selectorStep struct {
	tag   string
	class string
	id    string
}

func parseSelector(expr string) (selector, error) {
	fields := strings.Fields(expr)
	if len(fields) == 0 {
		return selector{}, fmt.Errorf("empty selector")
	}
	steps := make([]selectorStep, 0, len(fields))
	for _, field := range fields {
		step, err := parseStep(field)
		if err != nil {
			return selector{}, err
		}
		steps = append(steps, step)
	}
	return selector{steps: steps}, nil
}

func parseStep(s string) (selectorStep, error) {
	var step selectorStep
	rest := s
	for rest != "" {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			step.class, rest = takeIdent(rest)
			if step.class == "" {
				return step, fmt.Errorf("selector %q: empty class", s)
			}
		case '#':
			rest = rest[1:]
			step.id, rest = takeIdent(rest)
			if step.id == "" {
				return step, fmt.Errorf("selector %q: empty id", s)
			}
		default:
			step.tag, rest = takeIdent(rest)
			if step.tag == "" {
				return step, fmt.Errorf("unsupported selector %q", s)
			}
			step.tag = strings.ToLower(step.tag)
		}
	}
	return step, nil
}

func takeIdent(s string) (string, string) {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' || s[i] == '#' {
			return s[:i], s[i:]
		}
	}
	return s, ""
}

func (sel selector) matches(n *html.Node, ancestors []*html.Node) bool {
	last := sel.steps[len(sel.steps)-1]
	if !last.matchesNode(n) {
		return false
	}
	// Remaining steps must match ancestors in order, outermost first.
	remaining := sel.steps[:len(sel.steps)-1]
	ai := 0
	for _, step := range remaining {
		found := false
		for ; ai < len(ancestors); ai++ {
			if ancestors[ai].Type == html.ElementNode && step.matchesNode(ancestors[ai]) {
				found = true
				ai++
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (st selectorStep) matchesNode(n *html.Node) bool {
	if st.tag != "" && n.Data != st.tag {
		return false
	}
	if st.id != "" && attrValue(n, "id") != st.id {
		return false
	}
	if st.class != "" {
		classes := strings.Fields(attrValue(n, "class"))
		found := false
		for _, c := range classes {
			if c == st.class {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func attrValue(n *html.Node, name string) string {
	for _, attr := range n.Attr {
		if attr.Key == name {
			return attr.Val
		}
	}
	return ""
}
