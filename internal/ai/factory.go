package ai

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/david/grant-pipeline/internal/config"
)

// NewModel builds the configured completion provider.
func NewModel(cfg config.LLMConfig, logger *zap.Logger) (Model, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIModel(cfg.Endpoint, cfg.APIKey, cfg.Model, cfg.MaxTokens, logger)
	case "anthropic":
		return NewAnthropicModel(cfg.APIKey, cfg.Model, cfg.MaxTokens, logger)
	case "ollama":
		return NewOllamaClient(cfg.OllamaURL, "", cfg.Model, cfg.Timeout), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}

// NewEmbedder returns nil when embeddings are disabled.
func NewEmbedder(llm config.LLMConfig, cfg config.EmbedConfig) (Embedder, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "ollama":
		return NewOllamaClient(llm.OllamaURL, cfg.Model, "", llm.Timeout), nil
	case "openai":
		return NewOpenAIEmbedder(llm.Endpoint, llm.APIKey, cfg.Model), nil
	}
	return nil, fmt.Errorf("unknown embed provider %q", cfg.Provider)
}
