// internal/services/asset_matcher.go
package services

import (
	"context"

	"github.com/Corphon/StoryboardMCP/internal/config"
	"github.com/Corphon/StoryboardMCP/internal/models"
	"github.com/Corphon/StoryboardMCP/internal/utils"
)

// MatcherConfig 匹配器的显式配置；Vector 为同一会话内共享的熔断状态
type MatcherConfig struct {
	Profile *config.MatcherProfile
	Vector  *VectorAvailability
}

// MatchOutcome 单个分镜的匹配结果
type MatchOutcome struct {
	BlockID    string               `json:"block_id"`
	Query      string               `json:"query"`
	Candidates []models.MatchResult `json:"candidates"`
	Strategy   string               `json:"strategy,omitempty"`
}

// AssetMatcher 为分镜生成候选素材
type AssetMatcher struct {
	profile    *config.MatcherProfile
	normalizer *QueryNormalizer
	retriever  *CandidateRetriever
	ranker     *HybridRanker
	strategies []RetrievalStrategy
	logger     *utils.Logger
}

// NewAssetMatcher 创建匹配器；searcher 可为 nil（只使用本地回退）
func NewAssetMatcher(cfg MatcherConfig, searcher VectorSearcher) *AssetMatcher {
	profile := cfg.Profile
	if profile == nil {
		profile = config.DefaultProfile()
	}
	retriever := NewCandidateRetriever(searcher, cfg.Vector)

	m := &AssetMatcher{
		profile:    profile,
		normalizer: NewQueryNormalizer(profile.Query),
		retriever:  retriever,
		ranker:     NewHybridRanker(retriever, profile.Hybrid, profile.Smart),
		logger:     utils.GetLogger(),
	}

	m.strategies = []RetrievalStrategy{
		StrategyFunc{StrategyName: StrategyVector, Fn: m.vectorTier},
	}
	if profile.LexicalFallback {
		m.strategies = append(m.strategies, StrategyFunc{StrategyName: "lexical", Fn: m.lexicalTier})
	}
	m.strategies = append(m.strategies, StrategyFunc{StrategyName: "emotion", Fn: m.emotionTier})
	return m
}

// Ranker 与匹配器共享熔断状态的检索器
func (m *AssetMatcher) Ranker() *HybridRanker {
	return m.ranker
}

// Availability 向量检索熔断状态
func (m *AssetMatcher) Availability() *VectorAvailability {
	return m.retriever.Availability()
}

// Match 为一个分镜查找候选；零候选不是错误
func (m *AssetMatcher) Match(ctx context.Context, block models.ScriptBlock, assets []models.Asset) MatchOutcome {
	query := m.normalizer.BuildSearchQuery(block.Text, block.Emotion)
	outcome := RunCascade(ctx, m.strategies, RetrievalInput{
		Block:  block,
		Query:  query,
		Assets: candidateAssets(assets),
	})

	m.logger.Debug("block matched", map[string]interface{}{
		"block_id": block.ID,
		"query":    query,
		"strategy": outcome.Strategy,
		"count":    len(outcome.Results),
	})

	return MatchOutcome{
		BlockID:    block.ID,
		Query:      query,
		Candidates: outcome.Results,
		Strategy:   outcome.Strategy,
	}
}

// candidateAssets 占位素材不参与匹配
func candidateAssets(assets []models.Asset) []models.Asset {
	out := make([]models.Asset, 0, len(assets))
	for _, a := range assets {
		if !a.IsPlaceholder() {
			out = append(out, a)
		}
	}
	return out
}

// vectorTier 结果保持服务返回的顺序
func (m *AssetMatcher) vectorTier(ctx context.Context, in RetrievalInput) ([]models.MatchResult, error) {
	v := m.profile.Vector
	return m.retriever.VectorSearch(ctx, in.Query, v.TopK, v.Threshold, v.FilterTags)
}

func (m *AssetMatcher) lexicalTier(_ context.Context, in RetrievalInput) ([]models.MatchResult, error) {
	results := sortAndLimit(m.ranker.HybridSearch(in.Assets, in.Query, models.SearchFilters{}), m.profile.Vector.TopK)
	for i := range results {
		results[i].MatchType = models.MatchExtractionFallback
	}
	return results, nil
}

// emotionTier 情绪完全一致的素材优先，否则使用全部素材；得分按位置递减
func (m *AssetMatcher) emotionTier(_ context.Context, in RetrievalInput) ([]models.MatchResult, error) {
	return EmotionFallback(in.Assets, in.Block.Emotion, m.profile.Emotion), nil
}

// EmotionFallback 按情绪回退匹配
func EmotionFallback(assets []models.Asset, emotion string, p config.EmotionProfile) []models.MatchResult {
	if len(assets) == 0 {
		return nil
	}

	var filtered []models.Asset
	for _, a := range assets {
		if a.Emotion == emotion {
			filtered = append(filtered, a)
		}
	}
	base := p.ExactScore
	if len(filtered) == 0 {
		filtered = assets
		base = p.FallbackScore
	}
	if len(filtered) > p.TopK {
		filtered = filtered[:p.TopK]
	}

	results := make([]models.MatchResult, 0, len(filtered))
	for i, a := range filtered {
		results = append(results, models.FromAsset(a, base-p.Decay*float64(i), models.MatchEmotionTag))
	}
	return results
}
