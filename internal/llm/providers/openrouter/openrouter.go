// internal/llm/providers/openrouter/openrouter.go
package openrouter

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Corphon/StoryboardMCP/internal/llm"
)

func init() {
	llm.Register("openrouter", func() llm.Provider {
		return &Provider{
			recommendedModels: []string{
				"qwen/qwen3-235b-a22b:free",
				"meta-llama/llama-3.3-70b-instruct:free",
				"google/gemma-3-27b-it:free",
			},
		}
	})
}

type Provider struct {
	endpoint          *llm.ChatEndpoint
	defaultModel      string
	recommendedModels []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := config["api_key"]
	if apiKey == "" {
		return errors.New("OpenRouter API密钥未提供")
	}

	baseURL := "https://openrouter.ai/api/v1"
	if v := config["base_url"]; v != "" {
		baseURL = strings.TrimRight(v, "/")
	}
	p.defaultModel = "qwen/qwen3-235b-a22b:free"
	if v := config["default_model"]; v != "" {
		p.defaultModel = v
	}

	appName := config["app_name"]
	if appName == "" {
		appName = "Storyboard Matcher"
	}
	headers := map[string]string{
		"Authorization": "Bearer " + apiKey,
		"X-Title":       appName,
	}
	if referer := config["http_referer"]; referer != "" {
		headers["HTTP-Referer"] = referer
	}

	p.endpoint = &llm.ChatEndpoint{
		Name:    "OpenRouter",
		URL:     baseURL + "/chat/completions",
		Headers: headers,
		Client:  &http.Client{Timeout: 180 * time.Second},
	}
	return nil
}

func (p *Provider) GetName() string {
	return "OpenRouter"
}

func (p *Provider) GetSupportedModels() []string {
	return p.recommendedModels
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	return p.endpoint.Complete(ctx, model, req)
}
