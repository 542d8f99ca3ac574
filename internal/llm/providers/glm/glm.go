// internal/llm/providers/glm/glm.go
package glm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Corphon/StoryboardMCP/internal/llm"
)

const defaultBaseURL = "https://open.bigmodel.cn/api/paas/v4"

func init() {
	llm.Register("glm", func() llm.Provider {
		return &Provider{
			recommendedModels: []string{"glm-4-plus", "glm-4-flash", "glm-4.5", "glm-4.5-air"},
		}
	})
}

// Provider 智谱 GLM
type Provider struct {
	endpoint          *llm.ChatEndpoint
	defaultModel      string
	recommendedModels []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := config["api_key"]
	if apiKey == "" {
		return errors.New("智谱GLM API密钥未提供")
	}

	baseURL := defaultBaseURL
	if v := config["base_url"]; v != "" {
		baseURL = strings.TrimRight(v, "/")
	}
	p.defaultModel = "glm-4-plus"
	if v := config["default_model"]; v != "" {
		p.defaultModel = v
	}

	p.endpoint = &llm.ChatEndpoint{
		Name:    "智谱GLM",
		URL:     baseURL + "/chat/completions",
		Headers: map[string]string{"Authorization": "Bearer " + apiKey},
		Client:  &http.Client{Timeout: 180 * time.Second},
	}
	return nil
}

func (p *Provider) GetName() string {
	return "智谱GLM"
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
