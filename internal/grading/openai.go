package grading

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const openaiDefaultBaseURL = "https://api.openai.com/v1"

// openaiGrader grades text through the OpenAI Chat Completions API.
type openaiGrader struct {
	cfg    Config
	http   *httpClient
	logger *zap.Logger
}

func newOpenAIGrader(cfg Config, logger *zap.Logger) *openaiGrader {
	if cfg.BaseURL == "" {
		cfg.BaseURL = openaiDefaultBaseURL
	}
	return &openaiGrader{
		cfg:    cfg,
		http:   newHTTPClient("openai", cfg.Timeout, cfg.MaxRetries, logger),
		logger: logger,
	}
}

func (g *openaiGrader) ProviderName() string { return "openai" }
func (g *openaiGrader) ModelName() string    { return g.cfg.Model }

type openaiRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens,omitempty"`
	Messages  []openaiMessage `json:"messages"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (g *openaiGrader) Grade(ctx context.Context, prompt, contextText string) (*Result, error) {
	req := openaiRequest{
		Model:     g.cfg.Model,
		MaxTokens: gradingMaxTokens,
		Messages: []openaiMessage{
			{Role: "user", Content: buildGradingPrompt(prompt, contextText)},
		},
	}
	headers := map[string]string{
		"Authorization": "Bearer " + g.cfg.APIKey,
	}

	result := &Result{Usage: Usage{Provider: "openai", Model: g.cfg.Model}}

	var resp openaiResponse
	attempts, err := g.http.postJSON(ctx, g.cfg.BaseURL+"/chat/completions", headers, req, &resp)
	result.Usage.APICalls = attempts
	if err != nil {
		return result, err
	}

	result.Usage.InputTokens = resp.Usage.PromptTokens
	result.Usage.OutputTokens = resp.Usage.CompletionTokens
	result.Usage.CostUSD = estimateCost("openai", g.cfg.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return result, &ParseError{Provider: "openai", Cause: fmt.Errorf("no choices in response")}
	}

	verdict, err := parseVerdict("openai", resp.Choices[0].Message.Content)
	if err != nil {
		return result, err
	}

	result.Verdict = verdict
	result.Reasoning = resp.Choices[0].Message.Content
	return result, nil
}
