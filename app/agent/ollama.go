package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type GenerateRequest struct {
	Model  string `json:"model"`
	System string `json:"system"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type GenerateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// OllamaGenerator calls the /api/generate endpoint of an Ollama server.
type OllamaGenerator struct {
	url    string
	model  string
	client *http.Client
}

func NewOllamaGenerator(url, model string, timeout time.Duration) *OllamaGenerator {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OllamaGenerator{url: url, model: model, client: &http.Client{Timeout: timeout}}
}

func (g *OllamaGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	reqBody, err := json.Marshal(GenerateRequest{
		Model:  g.model,
		System: system,
		Prompt: prompt,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama error: status %d, body: %s", resp.StatusCode, body)
	}

	var genResp GenerateResponse
	if err := json.Unmarshal(body, &genResp); err == nil {
		if genResp.Error != "" {
			return "", fmt.Errorf("ollama error: %s", genResp.Error)
		}
		if genResp.Response != "" {
			return genResp.Response, nil
		}
	}

	// streamed answer: one JSON object per line
	var output strings.Builder
	decoder := json.NewDecoder(bytes.NewReader(body))
	for decoder.More() {
		var chunk GenerateResponse
		if err := decoder.Decode(&chunk); err != nil {
			return "", fmt.Errorf("decode ollama stream: %w", err)
		}
		output.WriteString(chunk.Response)
	}
	return output.String(), nil
}
