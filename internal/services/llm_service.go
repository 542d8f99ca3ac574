// internal/services/llm_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/StoryboardMCP/internal/config"
	apperrors "github.com/Corphon/StoryboardMCP/internal/errors"
	"github.com/Corphon/StoryboardMCP/internal/llm"
	"github.com/Corphon/StoryboardMCP/internal/storage"
	"github.com/Corphon/StoryboardMCP/internal/utils"
)

var ErrLLMNotReady = errors.New("llm service not ready")

var providerDefaultModels = map[string]string{
	"glm":        "glm-4-plus",
	"nvidia":     "meta/llama-3.1-405b-instruct",
	"openai":     "gpt-4o-mini",
	"openrouter": "qwen/qwen3-235b-a22b:free",
}

// LLMService 统一的大语言模型调用入口，带回复缓存
type LLMService struct {
	providerMutex      sync.RWMutex
	provider           llm.Provider
	providerName       string
	activeDefaultModel string
	readyState         string

	cache   *storage.ResponseCache
	metrics *utils.MatchMetrics
	logger  *utils.Logger
}

// NewLLMService 按当前配置初始化；配置不完整时返回未就绪的服务而不是错误
func NewLLMService() *LLMService {
	service := NewEmptyLLMService()

	cfg := config.GetCurrentConfig()
	if cfg.LLMProvider == "" || cfg.LLMConfig["api_key"] == "" {
		service.readyState = "API key not configured"
		return service
	}
	if err := service.UpdateProvider(cfg.LLMProvider, cfg.LLMConfig); err != nil {
		service.logger.Warn("llm provider initialization failed", map[string]interface{}{
			"provider": cfg.LLMProvider,
			"error":    err.Error(),
		})
	}
	return service
}

// NewEmptyLLMService 未配置提供者的服务
func NewEmptyLLMService() *LLMService {
	return &LLMService{
		readyState: "Uninitialized",
		cache:      storage.NewResponseCache(100, 30*time.Minute),
		metrics:    utils.NewMatchMetrics(),
		logger:     utils.GetLogger(),
	}
}

// NewLLMServiceWithProvider 直接使用给定提供者
func NewLLMServiceWithProvider(name string, provider llm.Provider) *LLMService {
	service := NewEmptyLLMService()
	service.provider = provider
	service.providerName = name
	service.readyState = "Ready"
	return service
}

// IsReady 是否可以调用模型
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil
}

// GetReadyState 可读的就绪状态
func (s *LLMService) GetReadyState() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.readyState
}

// GetProviderName 当前提供者名称
func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

// UpdateProvider 切换提供者并清空缓存
func (s *LLMService) UpdateProvider(providerName string, cfg map[string]string) error {
	provider, err := llm.GetProvider(providerName, cfg)

	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	if err != nil {
		s.readyState = fmt.Sprintf("Configuration failed: %v", err)
		return err
	}
	s.provider = provider
	s.providerName = providerName
	s.activeDefaultModel = strings.TrimSpace(cfg["default_model"])
	s.readyState = "Ready"
	s.cache.Clear()
	return nil
}

// Complete 单轮补全；相同 prompt 与模型命中缓存时不调用远端
func (s *LLMService) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.providerMutex.RLock()
	provider := s.provider
	providerName := s.providerName
	state := s.readyState
	s.providerMutex.RUnlock()

	if provider == nil {
		return nil, apperrors.NewUpstreamError(fmt.Sprintf("%v: %s", ErrLLMNotReady, state), ErrLLMNotReady)
	}

	req.Model = s.resolveModel(req.Model)
	key := storage.CacheKey(providerName+"/"+req.Model, req.SystemPrompt, req.Prompt)
	if text, ok := s.cache.Get(key); ok {
		s.logger.Debug("llm cache hit", map[string]interface{}{"cache_key_prefix": key[:8]})
		return &llm.CompletionResponse{Text: text, ModelName: req.Model, ProviderName: providerName}, nil
	}

	start := time.Now()
	resp, err := provider.CompleteText(ctx, req)
	if err != nil {
		s.logger.Error("llm completion failed", map[string]interface{}{
			"provider": providerName,
			"model":    req.Model,
			"error":    err.Error(),
		})
		return nil, apperrors.NewUpstreamError("language model request failed", err)
	}
	s.metrics.RecordLLMRequest(providerName, req.Model, resp.TokensUsed, time.Since(start))

	if resp.Text != "" {
		s.cache.Set(key, resp.Text)
	}
	return resp, nil
}

// resolveModel 请求指定 > 配置默认 > 提供者推荐 > 内置默认
func (s *LLMService) resolveModel(requested string) string {
	if trimmed := strings.TrimSpace(requested); trimmed != "" {
		return trimmed
	}

	s.providerMutex.RLock()
	provider := s.provider
	providerName := s.providerName
	activeDefault := s.activeDefaultModel
	s.providerMutex.RUnlock()

	if activeDefault != "" {
		return activeDefault
	}
	if model, ok := providerDefaultModels[providerName]; ok {
		return model
	}
	if provider != nil {
		if models := provider.GetSupportedModels(); len(models) > 0 {
			return models[0]
		}
	}
	return providerDefaultModels["glm"]
}
