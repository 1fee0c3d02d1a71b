package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/taskpilot/taskpilot/pkg/catalog"
)

const defaultCompletionsURL = "https://aiproxy.sanand.workers.dev/openai/v1/chat/completions"

const systemPrompt = `You map a user instruction to exactly one operation from the catalog below.
Respond with JSON only, shaped as:
{"operation": "<id or null>", "parameters": {...}, "confidence": 0..1, "runner_up_confidence": 0..1}
Use null for "operation" when no catalog operation fits, including any request
to delete data: no deletion operation exists. File parameters are paths
relative to the task working directory. Catalog: %s`

// OpenAIOracle consults an OpenAI-compatible chat-completions endpoint for
// structured candidates.
type OpenAIOracle struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

// OpenAIConfig configures the oracle client. APIKey is required.
type OpenAIConfig struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewOpenAIOracle constructs the chat-completions-backed oracle.
func NewOpenAIOracle(cfg OpenAIConfig) (*OpenAIOracle, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("oracle API key is required")
	}
	url := cfg.URL
	if url == "" {
		url = defaultCompletionsURL
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIOracle{
		url:    url,
		apiKey: cfg.APIKey,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Propose sends the instruction plus the catalog definitions and parses the
// structured candidate back. Malformed responses surface as errors; a null
// operation is ErrNoMatch.
func (o *OpenAIOracle) Propose(ctx context.Context, instruction string, defs []catalog.Definition) (*Proposal, error) {
	defsJSON, err := json.Marshal(defs)
	if err != nil {
		return nil, fmt.Errorf("marshal catalog definitions: %w", err)
	}

	body := map[string]any{
		"model": o.model,
		"messages": []map[string]string{
			{"role": "system", "content": fmt.Sprintf(systemPrompt, defsJSON)},
			{"role": "user", "content": instruction},
		},
		"response_format": map[string]string{"type": "json_object"},
		"temperature":     0,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("completions request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("completions API error: %s", resp.Status)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("completions response missing content")
	}

	var candidate struct {
		Operation  *string        `json:"operation"`
		Parameters map[string]any `json:"parameters"`
		Confidence float64        `json:"confidence"`
		RunnerUp   float64        `json:"runner_up_confidence"`
	}
	if err := json.Unmarshal([]byte(result.Choices[0].Message.Content), &candidate); err != nil {
		return nil, fmt.Errorf("parse candidate: %w", err)
	}
	if candidate.Operation == nil || *candidate.Operation == "" {
		return nil, ErrNoMatch
	}
	return &Proposal{
		OperationID: *candidate.Operation,
		Params:      candidate.Parameters,
		Confidence:  candidate.Confidence,
		RunnerUp:    candidate.RunnerUp,
	}, nil
}
