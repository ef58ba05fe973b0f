package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/atomicobject/vaultweaver/internal/vwerr"
)

// HTTPProvider implements Provider against an OpenAI-compatible chat
// completions endpoint (also served by Ollama's /v1/chat/completions
// compatibility layer), so the same provider serves either backend by
// pointing BaseURL at the right host.
type HTTPProvider struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// NewHTTPProvider builds a provider targeting baseURL (e.g.
// "https://api.openai.com/v1" or "http://localhost:11434/v1").
func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{BaseURL: baseURL, APIKey: apiKey, HTTP: &http.Client{}}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Invoke sends prompt as a single user message and returns the assistant's
// text, the HTTP status code observed (0 on transport failure), and any
// error. Status is returned even on error so the caller can classify
// retryability without re-parsing err.
func (p *HTTPProvider) Invoke(ctx context.Context, prompt string, opts Options) (string, int, error) {
	model := opts.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	reqBody := chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", 0, vwerr.New("llm.HTTPProvider.Invoke", vwerr.LLMPermanent, err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", 0, vwerr.New("llm.HTTPProvider.Invoke", vwerr.LLMPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := p.HTTP.Do(req)
	if err != nil {
		return "", 0, vwerr.New("llm.HTTPProvider.Invoke", vwerr.LLMTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, vwerr.New("llm.HTTPProvider.Invoke", vwerr.LLMTransient, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", resp.StatusCode, vwerr.New("llm.HTTPProvider.Invoke", vwerr.LLMPermanent,
			fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", resp.StatusCode, vwerr.New("llm.HTTPProvider.Invoke", vwerr.LLMPermanent, err)
	}
	if parsed.Error != nil {
		return "", resp.StatusCode, vwerr.New("llm.HTTPProvider.Invoke", vwerr.LLMPermanent, fmt.Errorf("%s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", resp.StatusCode, vwerr.New("llm.HTTPProvider.Invoke", vwerr.LLMPermanent, fmt.Errorf("no choices returned"))
	}
	return parsed.Choices[0].Message.Content, resp.StatusCode, nil
}
