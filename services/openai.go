package services

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// ChatCompleter is the part of the OpenAI client the pipeline uses. Tests
// substitute fakes.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewOpenRouterClient returns an OpenAI compatible client pointed at
// OpenRouter, or any other base URL speaking the same API.
func NewOpenRouterClient(apiKey, baseURL string) *openai.Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	config.OrgID = "openrouter"

	return openai.NewClientWithConfig(config)
}

// Usage is the token accounting of one completion.
type Usage struct {
	Prompt     int
	Completion int
	Total      int
}

// UsageOf extracts token usage from a response.
func UsageOf(resp openai.ChatCompletionResponse) Usage {
	return Usage{
		Prompt:     resp.Usage.PromptTokens,
		Completion: resp.Usage.CompletionTokens,
		Total:      resp.Usage.TotalTokens,
	}
}
