package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/SatoshiKawabata/rainy-talk-api/internal/config"
)

// LLMGenerator produces turns through a langchaingo chat model.
type LLMGenerator struct {
	llm             llms.Model
	maxSummaryInput int
}

// NewLLMGenerator creates a generator for the configured provider.
func NewLLMGenerator(cfg *config.Config) (*LLMGenerator, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return &LLMGenerator{
		llm:             model,
		maxSummaryInput: cfg.Chat.SummaryMaxInput,
	}, nil
}

// Summarize condenses the speaker's past turns. Input already within the
// summary budget is passed through verbatim without a model call.
func (g *LLMGenerator) Summarize(ctx context.Context, messages []ContextMessage, persona string) (string, error) {
	contents := make([]string, 0, len(messages))
	for _, msg := range messages {
		contents = append(contents, msg.Content)
	}
	joined := strings.Join(contents, "\n")
	if len(joined) <= g.maxSummaryInput {
		return joined, nil
	}

	summary, err := g.complete(ctx, persona, summarizePrompt(joined, g.maxSummaryInput))
	if err != nil {
		return "", fmt.Errorf("summarize: %w: %w", ErrGeneratorFailure, err)
	}
	return summary, nil
}

// Generate produces the next turn of an agent-to-agent exchange.
func (g *LLMGenerator) Generate(ctx context.Context, tc TurnContext) (*Result, error) {
	raw, err := g.complete(ctx, tc.Persona, generatePrompt(tc))
	if err != nil {
		return nil, fmt.Errorf("generate: %w: %w", ErrGeneratorFailure, err)
	}
	return DecodeResult(raw, tc.TargetName), nil
}

// GenerateWithHuman produces the next turn when a human spoke recently.
func (g *LLMGenerator) GenerateWithHuman(ctx context.Context, tc TurnContext) (*Result, error) {
	raw, err := g.complete(ctx, tc.Persona, generateWithHumanPrompt(tc))
	if err != nil {
		return nil, fmt.Errorf("generate with human: %w: %w", ErrGeneratorFailure, err)
	}
	return DecodeResult(raw, tc.TargetName), nil
}

func (g *LLMGenerator) complete(ctx context.Context, system, user string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, user),
	}

	response, err := g.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}
	return response.Choices[0].Content, nil
}
