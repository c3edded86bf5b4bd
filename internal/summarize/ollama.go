package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL   = "http://localhost:11434"
	DefaultModel     = "llama3.2"
	DefaultTimeout   = 120 * time.Second
	DefaultMaxLength = 1000
)

const summarizePrompt = `Summarise the following question and answer in %d characters or less.
Keep the question and the advice given in the answer. Return only the summary.

%s`

// OllamaConfig configures an OllamaSummarizer.
type OllamaConfig struct {
	BaseURL   string
	Model     string
	Timeout   time.Duration
	MaxLength int
}

// OllamaSummarizer calls the Ollama /api/generate endpoint.
type OllamaSummarizer struct {
	client    *http.Client
	baseURL   string
	model     string
	maxLength int
	logger    *zap.Logger
}

// Option configures an OllamaSummarizer.
type Option func(*OllamaSummarizer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *OllamaSummarizer) { s.logger = l }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *OllamaSummarizer) { s.client = c }
}

type generateRequest struct {
	Model   string   `json:"model"`
	Prompt  string   `json:"prompt"`
	Stream  bool     `json:"stream"`
	Options *options `json:"options,omitempty"`
}

type options struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaSummarizer returns a summarizer for the given Ollama server.
func NewOllamaSummarizer(cfg OllamaConfig, opts ...Option) *OllamaSummarizer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	s := &OllamaSummarizer{
		client:    &http.Client{Timeout: cfg.Timeout},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		model:     cfg.Model,
		maxLength: cfg.MaxLength,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Summarize asks the model for a summary of text.
func (s *OllamaSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	reqBody := generateRequest{
		Model:  s.model,
		Prompt: fmt.Sprintf(summarizePrompt, s.maxLength, text),
		Stream: false,
		Options: &options{
			// Roughly four characters per token.
			NumPredict:  s.maxLength/4 + 32,
			Temperature: 0.2,
		},
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/generate", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("ollama error (status %d): failed to read response", resp.StatusCode)
		}
		return "", fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, string(body))
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	summary := strings.TrimSpace(genResp.Response)
	if summary == "" {
		return "", fmt.Errorf("ollama returned an empty summary")
	}
	return summary, nil
}

// Close drops idle connections.
func (s *OllamaSummarizer) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
