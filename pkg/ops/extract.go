package ops

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/taskpilot/taskpilot/pkg/catalog"
)

type extractText struct {
	remote Remote
}

// NewExtractText pulls a requested field out of an unstructured text file by
// asking the completion collaborator.
func NewExtractText(remote Remote) catalog.Operation { return extractText{remote: remote} }

func (extractText) Spec() catalog.Spec {
	return catalog.Spec{
		ID:          "extract_text",
		Description: "Extract a named field (such as an email address or a total) from an unstructured text file.",
		Caps:        catalog.CapSet{catalog.CapRead, catalog.CapWrite, catalog.CapNetwork},
		Params: []catalog.Param{
			{Name: "input", Type: catalog.TypePath, Required: true, Description: "Text file to extract from"},
			{Name: "field", Type: catalog.TypeString, Required: true, Description: "What to extract, e.g. \"sender email address\""},
			{Name: "output", Type: catalog.TypePath, Required: true, Description: "Where to write the extracted value"},
		},
	}
}

func (o extractText) Execute(ctx context.Context, env catalog.Env, params map[string]any) (*catalog.Result, error) {
	input, err := requireString(params, "input")
	if err != nil {
		return nil, err
	}
	field, err := requireString(params, "field")
	if err != nil {
		return nil, err
	}
	output, err := requireString(params, "output")
	if err != nil {
		return nil, err
	}

	data, err := env.ReadFile(input)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf("Extract the %s from the following text. Reply with the value only, nothing else.\n\n%s", field, data)
	value, err := complete(ctx, env, o.remote, []map[string]any{
		{"role": "user", "content": prompt},
	})
	if err != nil {
		return nil, err
	}
	value = strings.TrimSpace(value)

	if err := env.Put(output, strings.NewReader(value)); err != nil {
		return nil, err
	}
	return &catalog.Result{Value: value, Artifact: output}, nil
}

type extractImageText struct {
	remote Remote
}

// NewExtractImageText extracts a requested value from an image through the
// vision-capable completion collaborator.
func NewExtractImageText(remote Remote) catalog.Operation { return extractImageText{remote: remote} }

func (extractImageText) Spec() catalog.Spec {
	return catalog.Spec{
		ID:          "extract_image_text",
		Description: "Extract a named value (such as a number printed in the image) from an image file.",
		Caps:        catalog.CapSet{catalog.CapRead, catalog.CapWrite, catalog.CapNetwork},
		Params: []catalog.Param{
			{Name: "input", Type: catalog.TypePath, Required: true, Description: "PNG or JPEG image"},
			{Name: "field", Type: catalog.TypeString, Required: true, Description: "What to read off the image"},
			{Name: "output", Type: catalog.TypePath, Required: true, Description: "Where to write the extracted value"},
		},
	}
}

func (o extractImageText) Execute(ctx context.Context, env catalog.Env, params map[string]any) (*catalog.Result, error) {
	input, err := requireString(params, "input")
	if err != nil {
		return nil, err
	}
	field, err := requireString(params, "field")
	if err != nil {
		return nil, err
	}
	output, err := requireString(params, "output")
	if err != nil {
		return nil, err
	}

	data, err := env.ReadFile(input)
	if err != nil {
		return nil, err
	}
	mime := "image/png"
	if strings.HasSuffix(strings.ToLower(input), ".jpg") || strings.HasSuffix(strings.ToLower(input), ".jpeg") {
		mime = "image/jpeg"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))

	value, err := complete(ctx, env, o.remote, []map[string]any{
		{"role": "user", "content": []map[string]any{
			{"type": "text", "text": fmt.Sprintf("Read the %s from this image. Reply with the value only.", field)},
			{"type": "image_url", "image_url": map[string]string{"url": dataURL}},
		}},
	})
	if err != nil {
		return nil, err
	}
	value = strings.TrimSpace(value)

	if err := env.Put(output, strings.NewReader(value)); err != nil {
		return nil, err
	}
	return &catalog.Result{Value: value, Artifact: output}, nil
}

// complete sends a chat-completions request through the capability-gated
// client and returns the first message content.
func complete(ctx context.Context, env catalog.Env, remote Remote, messages []map[string]any) (string, error) {
	client, err := env.HTTPClient()
	if err != nil {
		return "", err
	}

	model := remote.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	payload, err := json.Marshal(map[string]any{
		"model":    model,
		"messages": messages,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(remote.BaseURL, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+remote.APIKey)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("completions request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completions API error: %s", resp.Status)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("completions response missing content")
	}
	return result.Choices[0].Message.Content, nil
}
