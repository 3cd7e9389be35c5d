// Package summarize is the boundary to the external inference service.
//
// The collaborator is a synchronous invoke-model endpoint in the
// Bedrock/Anthropic wire shape. Failures are split into transient
// (retryable under the consumer's bounded-retry policy) and permanent
// (fail fast, no backoff budget spent); see errors.go.
package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"hivemail/internal/logging"
)

// Summarizer produces a short summary of the given content.
type Summarizer interface {
	Summarize(ctx context.Context, content string) (string, error)
	// Model identifies the backing model for provenance on stored
	// summaries.
	Model() string
}

// Default sampling parameters for the summarization prompt.
const (
	anthropicVersion = "bedrock-2023-05-31"
	promptPrefix     = "Summarize the following message in 2–3 bullet points:\n\n"

	defaultMaxTokens   = 500
	defaultTemperature = 0.3
	defaultTopK        = 250
	defaultTopP        = 0.9
)

// ClientConfig configures the HTTP inference client.
type ClientConfig struct {
	// Endpoint is the invoke-model API root; the model id is appended as
	// /model/<id>/invoke.
	Endpoint string
	// ModelID is the model identifier recorded on every summary.
	ModelID string
	// InvokeTimeout bounds a single call. Defaults to 30s.
	InvokeTimeout time.Duration
	// RatePerSecond caps sustained call rate; 0 disables limiting.
	RatePerSecond float64
	// Burst is the limiter burst size. Defaults to 1 when limiting.
	Burst int

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client invokes the external model over HTTP. Calls are rate limited and
// individually time-bounded; a timeout is a transient failure.
type Client struct {
	cfg     ClientConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates an inference client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("summarize: endpoint is required")
	}
	if cfg.ModelID == "" {
		return nil, fmt.Errorf("summarize: model id is required")
	}
	if cfg.InvokeTimeout <= 0 {
		cfg.InvokeTimeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &Client{
		cfg:     cfg,
		client:  httpClient,
		limiter: limiter,
		logger:  logging.Component(cfg.Logger, "summarizer"),
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.cfg.ModelID }

// promptPayload is the Anthropic-on-Bedrock request body.
type promptPayload struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	Temperature      float64         `json:"temperature"`
	TopK             int             `json:"top_k"`
	TopP             float64         `json:"top_p"`
	Messages         []promptMessage `json:"messages"`
}

type promptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// invokeResponse is the subset of the model response we consume.
type invokeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Summarize issues one inference call for the content. Empty content is a
// permanent error; there is nothing to summarize and retrying cannot fix
// it.
func (c *Client) Summarize(ctx context.Context, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", Permanent(fmt.Errorf("empty content"))
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.InvokeTimeout)
	defer cancel()

	payload := promptPayload{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        defaultMaxTokens,
		Temperature:      defaultTemperature,
		TopK:             defaultTopK,
		TopP:             defaultTopP,
		Messages: []promptMessage{
			{Role: "user", Content: promptPrefix + content},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", Permanent(fmt.Errorf("encode prompt: %w", err))
	}

	u := fmt.Sprintf("%s/model/%s/invoke", c.cfg.Endpoint, url.PathEscape(c.cfg.ModelID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		err = classify(err)
		c.logger.Warn("model invoke failed", "model", c.cfg.ModelID, "error", err)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := classifyStatus(resp)
		c.logger.Warn("model invoke rejected", "model", c.cfg.ModelID, "status", resp.StatusCode)
		return "", err
	}

	var out invokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", Permanent(fmt.Errorf("decode response: %w", err))
	}
	for _, block := range out.Content {
		if block.Type == "" || block.Type == "text" {
			if block.Text != "" {
				return block.Text, nil
			}
		}
	}
	return "", Permanent(fmt.Errorf("response contained no text content"))
}

// classifyStatus maps HTTP status codes onto the retry taxonomy:
// throttling and server errors are transient, everything else 4xx is
// permanent.
func classifyStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("model returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode >= 500:
		return Transient(err)
	default:
		return Permanent(err)
	}
}
