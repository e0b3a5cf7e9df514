package grading

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// PoolConfig carries the per-provider credentials the pool builds graders
// from. A provider with an empty key is unavailable; checks targeting it
// degrade to FAILED at evaluation time.
type PoolConfig struct {
	AnthropicAPIKey  string
	AnthropicBaseURL string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	Timeout          time.Duration
	MaxRetries       int
}

// Pool builds and caches one Grader per (provider, model) pair. It satisfies
// the engine's GraderSource interface.
type Pool struct {
	cfg    PoolConfig
	logger *zap.Logger

	mu      sync.Mutex
	graders map[string]Grader
}

// NewPool creates an empty grader pool.
func NewPool(cfg PoolConfig, logger *zap.Logger) *Pool {
	return &Pool{
		cfg:     cfg,
		logger:  logger,
		graders: make(map[string]Grader),
	}
}

// GraderFor returns the cached grader for the pair, constructing it on first
// use. Construction errors (missing key, unknown provider) are returned as
// ConfigError and are not cached, so fixing the environment does not require
// a restart.
func (p *Pool) GraderFor(provider, model string) (Grader, error) {
	key := provider + "/" + model

	p.mu.Lock()
	defer p.mu.Unlock()

	if g, ok := p.graders[key]; ok {
		return g, nil
	}

	cfg := Config{
		Provider:   provider,
		Model:      model,
		Timeout:    p.cfg.Timeout,
		MaxRetries: p.cfg.MaxRetries,
	}
	switch provider {
	case "anthropic":
		cfg.APIKey = p.cfg.AnthropicAPIKey
		cfg.BaseURL = p.cfg.AnthropicBaseURL
	case "openai":
		cfg.APIKey = p.cfg.OpenAIAPIKey
		cfg.BaseURL = p.cfg.OpenAIBaseURL
	}

	g, err := New(cfg, p.logger)
	if err != nil {
		return nil, err
	}
	p.graders[key] = g
	return g, nil
}
