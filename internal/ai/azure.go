// ABOUTME: Azure OpenAI implementation of the AIProvider contract
// ABOUTME: Calls the chat completions endpoint of a configured deployment

package ai

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

const systemPrompt = "Sos un asistente profesional de la empresa. Respondé de forma clara, breve y útil."

// AzureConfig holds the Azure OpenAI connection settings
type AzureConfig struct {
	Endpoint   string
	APIKey     string
	Deployment string
	APIVersion string
}

// AzureProvider generates responses via an Azure OpenAI deployment
type AzureProvider struct {
	cfg    AzureConfig
	client *http.Client
}

// NewAzureProvider creates an AzureProvider.
// A missing API key is a configuration error.
func NewAzureProvider(cfg AzureConfig) (*AzureProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("azure openai api key not configured")
	}
	if cfg.Endpoint == "" || cfg.Deployment == "" {
		return nil, fmt.Errorf("azure openai endpoint and deployment are required")
	}
	return &AzureProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// GenerateResponse calls the chat completions endpoint.
// Failures are returned to the caller; the router does not retry them.
func (p *AzureProvider) GenerateResponse(ctx context.Context, message string, contextData map[string]string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: message},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("encoding chat request: %w", err)
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimRight(p.cfg.Endpoint, "/"), p.cfg.Deployment, p.cfg.APIVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling azure openai: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("azure openai returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("azure openai returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// Ensure AzureProvider implements Provider
var _ Provider = (*AzureProvider)(nil)
