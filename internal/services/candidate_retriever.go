// internal/services/candidate_retriever.go
package services

import (
	"context"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/StoryboardMCP/internal/errors"
	"github.com/Corphon/StoryboardMCP/internal/models"
	"github.com/Corphon/StoryboardMCP/internal/utils"
	"github.com/Corphon/StoryboardMCP/internal/vectorsearch"
)

// VectorSearcher 外部向量检索服务
type VectorSearcher interface {
	Search(ctx context.Context, req vectorsearch.SearchRequest) (*vectorsearch.SearchResponse, error)
}

// VectorAvailability 向量检索的熔断状态；一旦置为不可用，只能由 Reset 恢复
type VectorAvailability struct {
	mu       sync.RWMutex
	down     bool
	reason   string
	since    time.Time
	failures int
}

// VectorStatus 熔断状态快照
type VectorStatus struct {
	Available bool      `json:"available"`
	Reason    string    `json:"reason,omitempty"`
	Since     time.Time `json:"since,omitempty"`
	Failures  int       `json:"failures"`
}

func NewVectorAvailability() *VectorAvailability {
	return &VectorAvailability{}
}

func (v *VectorAvailability) Available() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return !v.down
}

// MarkUnavailable 记录失败并锁定
func (v *VectorAvailability) MarkUnavailable(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failures++
	if v.down {
		return
	}
	v.down = true
	v.since = time.Now()
	if err != nil {
		v.reason = err.Error()
	}
}

// Reset 操作员手动恢复
func (v *VectorAvailability) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.down = false
	v.reason = ""
	v.since = time.Time{}
}

func (v *VectorAvailability) Status() VectorStatus {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return VectorStatus{
		Available: !v.down,
		Reason:    v.reason,
		Since:     v.since,
		Failures:  v.failures,
	}
}

// CandidateRetriever 单一检索策略的执行者
type CandidateRetriever struct {
	searcher     VectorSearcher
	availability *VectorAvailability
	shotTypes    []string
	metrics      *utils.MatchMetrics
	logger       *utils.Logger
}

func NewCandidateRetriever(searcher VectorSearcher, availability *VectorAvailability) *CandidateRetriever {
	if availability == nil {
		availability = NewVectorAvailability()
	}
	return &CandidateRetriever{
		searcher:     searcher,
		availability: availability,
		shotTypes:    defaultShotTypeKeywords,
		metrics:      utils.NewMatchMetrics(),
		logger:       utils.GetLogger(),
	}
}

// Availability 返回共享的熔断状态
func (r *CandidateRetriever) Availability() *VectorAvailability {
	return r.availability
}

// VectorSearch 调用向量服务，结果顺序保持不变；传输失败会锁定熔断并返回错误
func (r *CandidateRetriever) VectorSearch(ctx context.Context, query string, topK int, threshold float64, filterTags []string) ([]models.MatchResult, error) {
	if r.searcher == nil {
		return nil, apperrors.NewRetrievalTransportError("vector search is not configured", nil)
	}
	if !r.availability.Available() {
		return nil, apperrors.NewRetrievalTransportError("vector search marked unavailable", nil)
	}

	start := time.Now()
	resp, err := r.searcher.Search(ctx, vectorsearch.SearchRequest{
		Query:      query,
		TopK:       topK,
		Threshold:  threshold,
		FilterTags: filterTags,
	})
	if err != nil {
		// 调用方取消或超时不是服务故障，不锁定熔断
		if ctxErr := ctx.Err(); ctxErr != nil {
			r.metrics.RecordRetrieval(string(models.MatchVector), 0, time.Since(start), ctxErr)
			return nil, ctxErr
		}
		r.availability.MarkUnavailable(err)
		r.metrics.RecordRetrieval(string(models.MatchVector), 0, time.Since(start), err)
		r.logger.Warn("vector search failed, disabling for this session", map[string]interface{}{
			"query": query,
			"error": err.Error(),
		})
		return nil, apperrors.WrapError(err, "vector search", apperrors.ErrorTypeRetrievalTransport)
	}

	results := make([]models.MatchResult, 0, len(resp.Results))
	for _, hit := range resp.Results {
		results = append(results, models.MatchResult{
			ShotID:      hit.ShotID,
			FilePath:    hit.FilePath,
			Label:       hit.Label,
			Similarity:  hit.Similarity,
			Tags:        hit.Tags,
			Description: hit.Description,
			Emotions:    hit.Emotions,
			Duration:    hit.Duration,
			MatchType:   models.MatchVector,
		})
	}
	r.metrics.RecordRetrieval(string(models.MatchVector), len(results), time.Since(start), nil)
	return results, nil
}

// SearchByTags 标签检索
func (r *CandidateRetriever) SearchByTags(assets []models.Asset, query string, filters models.SearchFilters) []models.MatchResult {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil
	}
	emotionFilter := toSet(filters.Emotions)

	var results []models.MatchResult
	for _, a := range assets {
		haystack := tagHaystack(a)
		score := 0.0
		for _, tok := range tokens {
			contained, exact := false, false
			for _, entry := range haystack {
				if strings.Contains(entry, tok) {
					contained = true
				}
				if entry == tok {
					exact = true
				}
			}
			if contained {
				score++
			}
			if exact {
				score += 0.5
			}
		}

		if len(emotionFilter) > 0 && !emotionFilter[a.Emotion] {
			score = 0
		}
		if len(filters.ShotTypes) > 0 && !r.matchesShotType(a, filters.ShotTypes) {
			score = 0
		}
		if score > 0 {
			results = append(results, models.FromAsset(a, score, models.MatchTag))
		}
	}
	return results
}

// SearchBySemantic 描述文本检索
func (r *CandidateRetriever) SearchBySemantic(assets []models.Asset, query string) []models.MatchResult {
	queryLower := strings.ToLower(strings.TrimSpace(query))
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	var results []models.MatchResult
	for _, a := range assets {
		desc := strings.ToLower(strings.Join(a.Descriptions(), " "))
		if desc == "" {
			continue
		}
		score := 0.0
		for _, tok := range tokens {
			if strings.Contains(desc, tok) {
				score++
			}
		}
		if strings.Contains(desc, queryLower) {
			score += 2
		}
		if score > 0 {
			results = append(results, models.FromAsset(a, score, models.MatchSemantic))
		}
	}
	return results
}

var defaultShotTypeKeywords = []string{
	"镜头", "特写", "近景", "中景", "全景", "远景",
	"close-up", "closeup", "medium", "wide", "full shot", "long shot", "establishing",
}

// matchesShotType 素材带有景别标签时必须命中过滤条件；没有景别信息的素材视为通过
func (r *CandidateRetriever) matchesShotType(a models.Asset, wanted []string) bool {
	var shotTags []string
	for _, t := range append(append([]string(nil), a.Tags...), a.EmbeddingTags()...) {
		lt := strings.ToLower(t)
		for _, kw := range r.shotTypes {
			if strings.Contains(lt, kw) {
				shotTags = append(shotTags, lt)
				break
			}
		}
	}
	if len(shotTags) == 0 {
		return true
	}
	for _, st := range shotTags {
		for _, w := range wanted {
			if w != "" && strings.Contains(st, strings.ToLower(w)) {
				return true
			}
		}
	}
	return false
}

func tagHaystack(a models.Asset) []string {
	entries := make([]string, 0, 2+len(a.Tags)+len(a.EmbeddingTags()))
	entries = append(entries, strings.ToLower(a.Label), strings.ToLower(a.Emotion))
	for _, t := range a.Tags {
		entries = append(entries, strings.ToLower(t))
	}
	for _, t := range a.EmbeddingTags() {
		entries = append(entries, strings.ToLower(t))
	}
	return entries
}

func tokenize(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
