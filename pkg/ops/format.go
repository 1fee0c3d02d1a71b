package ops

import (
	"context"
	"fmt"
	"strings"

	"github.com/taskpilot/taskpilot/pkg/catalog"
)

type formatMarkdown struct {
	command []string
}

// NewFormatMarkdown formats a markdown file in place using an external
// formatter subprocess.
func NewFormatMarkdown(command []string) catalog.Operation {
	if len(command) == 0 {
		command = []string{"npx", "prettier", "--parser", "markdown"}
	}
	return formatMarkdown{command: command}
}

func (formatMarkdown) Spec() catalog.Spec {
	return catalog.Spec{
		ID:          "format_markdown",
		Description: "Format a markdown file in place with the configured formatter.",
		Caps:        catalog.CapSet{catalog.CapRead, catalog.CapWrite, catalog.CapProcess},
		Params: []catalog.Param{
			{Name: "input", Type: catalog.TypePath, Required: true, Description: "Markdown file to format"},
		},
	}
}

func (o formatMarkdown) Execute(ctx context.Context, env catalog.Env, params map[string]any) (*catalog.Result, error) {
	input, err := requireString(params, "input")
	if err != nil {
		return nil, err
	}
	abs, err := env.PathFor(input)
	if err != nil {
		return nil, err
	}

	runner, err := env.Runner()
	if err != nil {
		return nil, err
	}

	args := append(append([]string{}, o.command[1:]...), abs)
	res, err := runner.Run(ctx, o.command[0], args...)
	if err != nil {
		return nil, fmt.Errorf("formatter failed: %w", err)
	}
	if res.Code != 0 {
		return nil, fmt.Errorf("formatter exited %d: %s", res.Code, strings.TrimSpace(res.Stderr))
	}

	// The formatter prints the result; the rewrite goes through the store so
	// the original survives a mid-write failure.
	if err := env.Put(input, strings.NewReader(res.Stdout)); err != nil {
		return nil, err
	}
	return &catalog.Result{Value: len(res.Stdout), Artifact: input}, nil
}
