package scorer

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/clifton/twag/pkg/config"
)

// Provider is a language-model backend. Implementations block their calling
// goroutine for the duration of the call.
type Provider interface {
	Complete(ctx context.Context, model, prompt string, maxTokens int) (string, error)
	CompleteVision(ctx context.Context, model, imageURL, prompt string, maxTokens int) (string, error)
}

// AnthropicProvider implements Provider on the Anthropic API.
type AnthropicProvider struct {
	client *anthropic.Client
}

// NewAnthropicProvider creates the provider. Returns ErrCredentialMissing
// when no API key is configured.
func NewAnthropicProvider() (*AnthropicProvider, error) {
	apiKey := config.Secret("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY: %w", ErrCredentialMissing)
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicProvider{client: &client}, nil
}

// Complete sends a text prompt and returns the text response.
func (p *AnthropicProvider) Complete(ctx context.Context, model, prompt string, maxTokens int) (string, error) {
	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic call failed: %w", err)
	}
	return firstTextBlock(message)
}

// CompleteVision sends an image URL plus a text prompt and returns the text
// response.
func (p *AnthropicProvider) CompleteVision(ctx context.Context, model, imageURL, prompt string, maxTokens int) (string, error) {
	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: imageURL}),
				anthropic.NewTextBlock(prompt),
			),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic vision call failed: %w", err)
	}
	return firstTextBlock(message)
}

func firstTextBlock(message *anthropic.Message) (string, error) {
	for _, block := range message.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("anthropic returned no text content")
}
