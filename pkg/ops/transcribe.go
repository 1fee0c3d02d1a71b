package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/taskpilot/taskpilot/pkg/catalog"
)

type transcribeAudio struct {
	remote Remote
}

// NewTranscribeAudio sends an audio file to the speech-to-text collaborator
// and writes the transcript.
func NewTranscribeAudio(remote Remote) catalog.Operation { return transcribeAudio{remote: remote} }

func (transcribeAudio) Spec() catalog.Spec {
	return catalog.Spec{
		ID:          "transcribe_audio",
		Description: "Transcribe an MP3 or WAV audio file and write the transcript.",
		Caps:        catalog.CapSet{catalog.CapRead, catalog.CapWrite, catalog.CapNetwork},
		Params: []catalog.Param{
			{Name: "input", Type: catalog.TypePath, Required: true, Description: "Audio file to transcribe"},
			{Name: "output", Type: catalog.TypePath, Required: true, Description: "Where to write the transcript"},
		},
	}
}

func (o transcribeAudio) Execute(ctx context.Context, env catalog.Env, params map[string]any) (*catalog.Result, error) {
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

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", filepath.Base(input))
	if err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}
	if err := form.WriteField("model", "whisper-1"); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}

	client, err := env.HTTPClient()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(o.remote.BaseURL, "/")+"/audio/transcriptions", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+o.remote.APIKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcription API error: %s", resp.Status)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if strings.TrimSpace(result.Text) == "" {
		return nil, fmt.Errorf("transcription response missing text")
	}

	if err := env.Put(output, strings.NewReader(result.Text)); err != nil {
		return nil, err
	}
	return &catalog.Result{Value: result.Text, Artifact: output}, nil
}
