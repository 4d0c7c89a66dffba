package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Generator produces an answer from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Default generator settings.
const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3.2"
	DefaultTimeout = 120 * time.Second
)

// OllamaConfig holds configuration for the Ollama generator.
type OllamaConfig struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string
	// Model is the model to use (default: llama3.2).
	Model string
	// APIKey is sent as a bearer token when set, for hosted gateways.
	APIKey string
	// Timeout is the per-request timeout (default: 120s).
	Timeout time.Duration
	// RequestsPerSecond and Burst throttle outgoing calls. Zero disables.
	RequestsPerSecond float64
	Burst             int
}

// Ollama calls an Ollama-compatible /api/generate endpoint.
type Ollama struct {
	client  *http.Client
	baseURL string
	model   string
	apiKey  string
	limiter *rate.Limiter
}

// generateRequest is the Ollama /api/generate request format.
type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// generateResponse is the Ollama /api/generate response format.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllama creates a generator.
func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	o := &Ollama{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return o
}

// Generate sends prompt and returns the completion.
func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	body, err := json.Marshal(generateRequest{Model: o.model, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("generator error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return strings.TrimSpace(out.Response), nil
}

// buildPrompt assembles the grounded question prompt.
func buildPrompt(passages []passage, question string) string {
	var ctx strings.Builder
	for i, p := range passages {
		if i > 0 {
			ctx.WriteString("\n\n")
		}
		ctx.WriteString(p.text)
	}
	return fmt.Sprintf(
		"Based on the following context, answer the question. If the answer cannot be found in the context, say %q\n\nContext:\n%s\n\nQuestion: %s\n\nAnswer:",
		NotFoundAnswer, ctx.String(), question,
	)
}
