package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"rulegate/internal/catalog"
	"rulegate/internal/rules"
)

// ClientConfig holds configuration for the generation collaborator client.
type ClientConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
	Model   string        `yaml:"model"`
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL: "http://localhost:8300",
		Timeout: 20 * time.Second,
		Model:   "rule-composer-1",
	}
}

// Client calls the rule-generation collaborator over HTTP. There are no
// internal retries: a timeout or malformed response is terminal for the
// request and the caller decides what to do next.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	policy     *catalog.PolicyConfig
	httpClient *http.Client
}

// NewClient creates a new generation client.
func NewClient(cfg ClientConfig, policy *catalog.PolicyConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		policy:  policy,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type generateRequest struct {
	Instruction string       `json:"instruction"`
	Model       string       `json:"model,omitempty"`
	Schema      OutputSchema `json:"schema"`
}

type generateResponse struct {
	Rule *rules.Rule `json:"rule"`
}

// Generate asks the collaborator for a structured rule proposal. Any
// parse failure is a hard malformed failure, never a partially populated
// rule.
func (c *Client) Generate(ctx context.Context, instruction string, cat *catalog.Catalog) (*rules.Rule, error) {
	hash := ContentHash(instruction)

	reqBody, err := json.Marshal(generateRequest{
		Instruction: instruction,
		Model:       c.model,
		Schema:      BuildSchema(cat, c.policy),
	})
	if err != nil {
		return nil, newFailure(ReasonMalformed, hash, fmt.Errorf("failed to encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/rules/generate", bytes.NewReader(reqBody))
	if err != nil {
		return nil, newFailure(ReasonUnavailable, hash, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newFailure(classifyTransportError(err), hash, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, newFailure(ReasonRateLimited, hash,
			fmt.Errorf("collaborator returned %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, newFailure(ReasonUnavailable, hash,
			fmt.Errorf("collaborator error %d: %s", resp.StatusCode, string(body)))
	}

	dec := json.NewDecoder(resp.Body)
	dec.DisallowUnknownFields()

	var out generateResponse
	if err := dec.Decode(&out); err != nil {
		return nil, newFailure(ReasonMalformed, hash, fmt.Errorf("failed to decode proposal: %w", err))
	}
	if out.Rule == nil {
		return nil, newFailure(ReasonMalformed, hash, errors.New("response carries no rule"))
	}
	return out.Rule, nil
}

func classifyTransportError(err error) FailureReason {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return ReasonTimeout
	}
	return ReasonUnavailable
}
