package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/taskpilot/taskpilot/pkg/catalog"
)

type similarComments struct {
	remote Remote
}

// NewSimilarComments embeds every line of a text corpus and writes the most
// similar pair by cosine similarity.
func NewSimilarComments(remote Remote) catalog.Operation { return similarComments{remote: remote} }

func (similarComments) Spec() catalog.Spec {
	return catalog.Spec{
		ID:          "similar_comments",
		Description: "Find the two most similar lines in a text file using embeddings and write them, one per line.",
		Caps:        catalog.CapSet{catalog.CapRead, catalog.CapWrite, catalog.CapNetwork},
		Params: []catalog.Param{
			{Name: "input", Type: catalog.TypePath, Required: true, Description: "File with one comment per line"},
			{Name: "output", Type: catalog.TypePath, Required: true, Description: "Where to write the most similar pair"},
		},
	}
}

func (o similarComments) Execute(ctx context.Context, env catalog.Env, params map[string]any) (*catalog.Result, error) {
	input, err := requireString(params, "input")
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
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) < 2 {
		return nil, fmt.Errorf("need at least two comments, got %d", len(lines))
	}

	vectors, err := o.embed(ctx, env, lines)
	if err != nil {
		return nil, err
	}

	bestI, bestJ := 0, 1
	best := math.Inf(-1)
	for i := 0; i < len(vectors); i++ {
		for j := i + 1; j < len(vectors); j++ {
			if sim := cosine(vectors[i], vectors[j]); sim > best {
				best, bestI, bestJ = sim, i, j
			}
		}
	}

	pair := lines[bestI] + "\n" + lines[bestJ] + "\n"
	if err := env.Put(output, strings.NewReader(pair)); err != nil {
		return nil, err
	}
	return &catalog.Result{Value: []string{lines[bestI], lines[bestJ]}, Artifact: output}, nil
}

func (o similarComments) embed(ctx context.Context, env catalog.Env, inputs []string) ([][]float64, error) {
	client, err := env.HTTPClient()
	if err != nil {
		return nil, err
	}

	model := o.remote.EmbedModel
	if model == "" {
		model = "text-embedding-3-small"
	}
	payload, err := json.Marshal(map[string]any{
		"model": model,
		"input": inputs,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(o.remote.BaseURL, "/")+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.remote.APIKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embeddings API error: %s", resp.Status)
	}

	var result struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Data) != len(inputs) {
		return nil, fmt.Errorf("embeddings response has %d vectors for %d inputs", len(result.Data), len(inputs))
	}
	vectors := make([][]float64, len(result.Data))
	for i, item := range result.Data {
		vectors[i] = item.Embedding
	}
	return vectors, nil
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
