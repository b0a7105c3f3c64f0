// Package factory constructs the configured inference provider.
package factory

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/demandcast/internal/ai"
	"github.com/kiranshivaraju/demandcast/internal/ai/anthropic"
	"github.com/kiranshivaraju/demandcast/internal/ai/gemini"
	"github.com/kiranshivaraju/demandcast/internal/ai/openai"
	"github.com/kiranshivaraju/demandcast/internal/config"
	"github.com/kiranshivaraju/demandcast/pkg/models"
)

// NewProvider constructs the appropriate AI provider based on config, wrapped with the
// configured inference timeout. Called once at startup.
func NewProvider(ctx context.Context, cfg config.AIConfig) (models.AIProvider, error) {
	var p models.AIProvider
	switch cfg.Provider {
	case "openai":
		p = openai.NewProvider(cfg.OpenAI)
	case "vllm":
		p = openai.NewProvider(cfg.VLLM, openai.WithName("vllm"))
	case "ollama":
		ollama := cfg.Ollama
		if ollama.APIKey == "" {
			// Ollama ignores the key but the client always sends one.
			ollama.APIKey = "ollama"
		}
		p = openai.NewProvider(ollama, openai.WithName("ollama"), openai.WithoutSeed())
	case "anthropic":
		p = anthropic.NewProvider(cfg.Anthropic)
	case "gemini":
		g, err := gemini.NewProvider(ctx, cfg.Gemini)
		if err != nil {
			return nil, err
		}
		p = g
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of openai, vllm, ollama, anthropic, gemini", cfg.Provider)
	}
	return ai.WithTimeout(p, cfg.InferenceTimeout), nil
}
