package grading

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	gradingMaxTokens        = 256
)

// anthropicGrader grades text through the Anthropic Messages API.
type anthropicGrader struct {
	cfg    Config
	http   *httpClient
	logger *zap.Logger
}

func newAnthropicGrader(cfg Config, logger *zap.Logger) *anthropicGrader {
	if cfg.BaseURL == "" {
		cfg.BaseURL = anthropicDefaultBaseURL
	}
	return &anthropicGrader{
		cfg:    cfg,
		http:   newHTTPClient("anthropic", cfg.Timeout, cfg.MaxRetries, logger),
		logger: logger,
	}
}

func (g *anthropicGrader) ProviderName() string { return "anthropic" }
func (g *anthropicGrader) ModelName() string    { return g.cfg.Model }

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Grade sends the validation prompt plus context text to the Messages API
// and parses the verdict. Usage is populated even when the call ultimately
// fails, with APICalls counting every HTTP attempt made.
func (g *anthropicGrader) Grade(ctx context.Context, prompt, contextText string) (*Result, error) {
	req := anthropicRequest{
		Model:     g.cfg.Model,
		MaxTokens: gradingMaxTokens,
		Messages: []anthropicMessage{
			{Role: "user", Content: buildGradingPrompt(prompt, contextText)},
		},
	}
	headers := map[string]string{
		"x-api-key":         g.cfg.APIKey,
		"anthropic-version": anthropicVersion,
	}

	result := &Result{Usage: Usage{Provider: "anthropic", Model: g.cfg.Model}}

	var resp anthropicResponse
	attempts, err := g.http.postJSON(ctx, g.cfg.BaseURL+"/v1/messages", headers, req, &resp)
	result.Usage.APICalls = attempts
	if err != nil {
		return result, err
	}

	result.Usage.InputTokens = resp.Usage.InputTokens
	result.Usage.OutputTokens = resp.Usage.OutputTokens
	result.Usage.CostUSD = estimateCost("anthropic", g.cfg.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return result, &ParseError{Provider: "anthropic", Cause: fmt.Errorf("empty content in response")}
	}

	verdict, err := parseVerdict("anthropic", text)
	if err != nil {
		return result, err
	}

	result.Verdict = verdict
	result.Reasoning = text
	return result, nil
}
