// internal/services/hybrid_ranker.go
package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/Corphon/StoryboardMCP/internal/config"
	"github.com/Corphon/StoryboardMCP/internal/models"
	"github.com/Corphon/StoryboardMCP/internal/utils"
)

const (
	StrategyTags   = "tags"
	StrategyVector = "vector"
	StrategyHybrid = "hybrid"
)

const (
	defaultSearchLimit = 20
	maxSuggestions     = 50
)

// SmartSearchResult 智能检索结果及所选策略
type SmartSearchResult struct {
	Results  []models.MatchResult `json:"results"`
	Strategy string               `json:"strategy"`
}

// HybridRanker 合并多种检索策略并选择执行策略
type HybridRanker struct {
	retriever *CandidateRetriever
	hybrid    config.HybridProfile
	smart     config.SmartProfile
	logger    *utils.Logger
}

func NewHybridRanker(retriever *CandidateRetriever, hybrid config.HybridProfile, smart config.SmartProfile) *HybridRanker {
	return &HybridRanker{
		retriever: retriever,
		hybrid:    hybrid,
		smart:     smart,
		logger:    utils.GetLogger(),
	}
}

// HybridSearch 标签与描述检索并行执行，按素材合并加权得分
func (h *HybridRanker) HybridSearch(assets []models.Asset, query string, filters models.SearchFilters) []models.MatchResult {
	var (
		wg              sync.WaitGroup
		tagResults      []models.MatchResult
		semanticResults []models.MatchResult
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		tagResults = h.retriever.SearchByTags(assets, query, filters)
	}()
	go func() {
		defer wg.Done()
		semanticResults = h.retriever.SearchBySemantic(assets, query)
	}()
	wg.Wait()

	merged := make([]models.MatchResult, 0, len(tagResults)+len(semanticResults))
	index := make(map[string]int, len(tagResults))
	for _, r := range tagResults {
		r.Similarity *= h.hybrid.TagWeight
		index[r.ShotID] = len(merged)
		merged = append(merged, r)
	}
	for _, r := range semanticResults {
		if i, ok := index[r.ShotID]; ok {
			merged[i].Similarity += r.Similarity * h.hybrid.SemanticWeight
			merged[i].MatchType = models.MatchBoth
			continue
		}
		r.Similarity *= h.hybrid.SemanticWeight
		merged = append(merged, r)
	}
	return merged
}

// SmartSearch 短查询或含关键词时只做标签检索；否则优先向量检索，失败时退回本地混合检索
func (h *HybridRanker) SmartSearch(ctx context.Context, assets []models.Asset, query string, limit int) SmartSearchResult {
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	if h.isTagQuery(query) {
		return SmartSearchResult{
			Results:  sortAndLimit(h.retriever.SearchByTags(assets, query, models.SearchFilters{}), limit),
			Strategy: StrategyTags,
		}
	}

	results, err := h.retriever.VectorSearch(ctx, query, limit, h.smart.Threshold, nil)
	if err == nil {
		return SmartSearchResult{Results: sortAndLimit(results, limit), Strategy: StrategyVector}
	}

	h.logger.Warn("vector search unavailable, using local hybrid search", map[string]interface{}{
		"query": query,
		"error": err.Error(),
	})
	return SmartSearchResult{
		Results:  sortAndLimit(h.HybridSearch(assets, query, models.SearchFilters{}), limit),
		Strategy: StrategyHybrid,
	}
}

// Search 按请求的模式检索，结果降序并截断
func (h *HybridRanker) Search(ctx context.Context, assets []models.Asset, req models.SearchRequest) SmartSearchResult {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	switch req.Mode {
	case models.SearchModeTags:
		return SmartSearchResult{Results: sortAndLimit(h.retriever.SearchByTags(assets, req.Query, req.Filters), limit), Strategy: StrategyTags}
	case models.SearchModeSemantic:
		return SmartSearchResult{Results: sortAndLimit(h.retriever.SearchBySemantic(assets, req.Query), limit), Strategy: string(models.SearchModeSemantic)}
	case models.SearchModeHybrid:
		return SmartSearchResult{Results: sortAndLimit(h.HybridSearch(assets, req.Query, req.Filters), limit), Strategy: StrategyHybrid}
	default:
		return h.SmartSearch(ctx, assets, req.Query, limit)
	}
}

func (h *HybridRanker) isTagQuery(query string) bool {
	if utf8.RuneCountInString(strings.TrimSpace(query)) < h.smart.MinQueryRunes {
		return true
	}
	lower := strings.ToLower(query)
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	}) {
		words[w] = true
	}
	for _, kw := range h.smart.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		// 中文关键词按子串匹配，拉丁关键词按整词匹配
		if hasHan(kw) {
			if strings.Contains(lower, kw) {
				return true
			}
		} else if words[kw] {
			return true
		}
	}
	return false
}

func hasHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

// Suggestions 已有标签与情绪，去重后最多 50 个
func Suggestions(assets []models.Asset) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if s == "" || seen[s] || len(out) >= maxSuggestions {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, a := range assets {
		for _, t := range a.Tags {
			add(t)
		}
		for _, t := range a.EmbeddingTags() {
			add(t)
		}
		add(a.Emotion)
	}
	return out
}

// sortAndLimit 稳定降序排序，同分保持原顺序
func sortAndLimit(results []models.MatchResult, limit int) []models.MatchResult {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
