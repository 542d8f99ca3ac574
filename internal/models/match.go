// internal/models/match.go
package models

// MatchType 候选结果的来源策略
type MatchType string

const (
	MatchVector             MatchType = "vector"
	MatchEmotionTag         MatchType = "emotion-tag"
	MatchTag                MatchType = "tag"
	MatchSemantic           MatchType = "semantic"
	MatchBoth               MatchType = "both"
	MatchExtractionFallback MatchType = "extraction-fallback"
)

// MatchResult 一个候选素材，按查询临时生成，不单独持久化
type MatchResult struct {
	ShotID      string    `json:"shot_id"`
	FilePath    string    `json:"file_path"`
	Label       string    `json:"label"`
	Similarity  float64   `json:"similarity"`
	Tags        []string  `json:"tags,omitempty"`
	Description string    `json:"description,omitempty"`
	Emotions    []string  `json:"emotions,omitempty"`
	Duration    float64   `json:"duration"`
	MatchType   MatchType `json:"match_type"`
}

// FromAsset 以本地素材构造候选
func FromAsset(a Asset, score float64, matchType MatchType) MatchResult {
	r := MatchResult{
		ShotID:     a.ID,
		FilePath:   a.FilePath,
		Label:      a.Label,
		Similarity: score,
		Tags:       append([]string(nil), a.Tags...),
		Duration:   a.Duration,
		MatchType:  matchType,
	}
	if a.ClipMetadata != nil {
		r.Description = a.ClipMetadata.Description
		r.Emotions = append([]string(nil), a.ClipMetadata.Emotions...)
	}
	if r.Description == "" && a.VLMMetadata != nil {
		r.Description = a.VLMMetadata.Description
	}
	if len(r.Emotions) == 0 && a.Emotion != "" {
		r.Emotions = []string{a.Emotion}
	}
	return r
}

// SearchMode 检索模式
type SearchMode string

const (
	SearchModeTags     SearchMode = "tags"
	SearchModeSemantic SearchMode = "semantic"
	SearchModeHybrid   SearchMode = "hybrid"
	SearchModeSmart    SearchMode = "smart"
)

// SearchFilters 标签检索的可选过滤条件
type SearchFilters struct {
	Emotions  []string `json:"emotions,omitempty"`
	ShotTypes []string `json:"shot_types,omitempty"`
}

// SearchRequest 检索请求
type SearchRequest struct {
	Query   string        `json:"query" binding:"required"`
	Mode    SearchMode    `json:"mode"`
	Limit   int           `json:"limit"`
	Filters SearchFilters `json:"filters"`
}
