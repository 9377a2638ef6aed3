package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

type AnthropicModel struct {
	client    *anthropic.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

func NewAnthropicModel(apiKey, model string, maxTokens int, logger *zap.Logger) (*AnthropicModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required for anthropic")
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicModel{
		client:    anthropic.NewClient(apiKey),
		model:     model,
		maxTokens: maxTokens,
		logger:    logger.Named("anthropic"),
	}, nil
}

func (m *AnthropicModel) Complete(ctx context.Context, prompt string) (string, error) {
	system := extractionSystemMessage
	start := time.Now()

	resp, err := m.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(m.model),
		MaxTokens: m.maxTokens,
		System:    system,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
	})
	if err != nil {
		m.logger.Warn("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", noCompletion("anthropic", err)
	}

	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			if text := strings.TrimSpace(*block.Text); text != "" {
				return text, nil
			}
		}
	}
	return "", noCompletion("anthropic", fmt.Errorf("no text content"))
}
