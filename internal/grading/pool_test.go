package grading

import (
	"errors"
	"testing"

	"go.uber.org/zap"
)

func TestPoolCachesGraders(t *testing.T) {
	p := NewPool(PoolConfig{AnthropicAPIKey: "sk-test"}, zap.NewNop())

	first, err := p.GraderFor("anthropic", "claude-3-5-haiku-latest")
	if err != nil {
		t.Fatalf("GraderFor: %v", err)
	}
	second, err := p.GraderFor("anthropic", "claude-3-5-haiku-latest")
	if err != nil {
		t.Fatalf("GraderFor (cached): %v", err)
	}
	if first != second {
		t.Error("same provider/model pair should return the cached grader")
	}

	other, err := p.GraderFor("anthropic", "claude-3-5-sonnet-latest")
	if err != nil {
		t.Fatalf("GraderFor (other model): %v", err)
	}
	if other == first {
		t.Error("different models must get distinct graders")
	}
}

func TestPoolMissingKey(t *testing.T) {
	p := NewPool(PoolConfig{}, zap.NewNop())

	_, err := p.GraderFor("openai", "gpt-4o-mini")
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("want ConfigError for missing key, got %v", err)
	}
}
