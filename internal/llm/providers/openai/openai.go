// internal/llm/providers/openai/openai.go
package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/Corphon/StoryboardMCP/internal/llm"
)

const nvidiaBaseURL = "https://integrate.api.nvidia.com/v1"

func init() {
	llm.Register("openai", func() llm.Provider {
		return &Provider{
			name:              "OpenAI",
			defaultModel:      string(openai.ChatModelGPT4oMini),
			recommendedModels: []string{string(openai.ChatModelGPT4oMini), string(openai.ChatModelGPT4o)},
		}
	})
	// NVIDIA NIM 兼容 OpenAI 协议，仅默认地址与模型不同
	llm.Register("nvidia", func() llm.Provider {
		return &Provider{
			name:              "NVIDIA",
			baseURL:           nvidiaBaseURL,
			defaultModel:      "meta/llama-3.1-405b-instruct",
			recommendedModels: []string{"meta/llama-3.1-405b-instruct", "meta/llama-3.3-70b-instruct"},
		}
	})
}

// Provider 基于 openai-go 的 OpenAI 兼容提供者
type Provider struct {
	name              string
	baseURL           string
	client            openai.Client
	defaultModel      string
	recommendedModels []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := config["api_key"]
	if apiKey == "" {
		return fmt.Errorf("%s API密钥未提供", p.name)
	}
	if v := config["base_url"]; v != "" {
		p.baseURL = v
	}
	if v := config["default_model"]; v != "" {
		p.defaultModel = v
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(180 * time.Second),
	}
	if p.baseURL != "" {
		opts = append(opts, option.WithBaseURL(p.baseURL))
	}
	p.client = openai.NewClient(opts...)
	return nil
}

func (p *Provider) GetName() string {
	return p.name
}

func (p *Provider) GetSupportedModels() []string {
	return p.recommendedModels
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    messages,
		Temperature: openai.Float(float64(req.Temperature)),
	}
	if req.TopP > 0 {
		params.TopP = openai.Float(float64(req.TopP))
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s API error: %w", p.name, err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New(p.name + " returned no choices")
	}

	return &llm.CompletionResponse{
		Text:         completion.Choices[0].Message.Content,
		FinishReason: string(completion.Choices[0].FinishReason),
		TokensUsed:   int(completion.Usage.TotalTokens),
		ModelName:    completion.Model,
		ProviderName: p.name,
	}, nil
}
