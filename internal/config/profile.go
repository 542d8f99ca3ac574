// internal/config/profile.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MatcherProfile 匹配流水线的可调参数，可由 YAML 文件覆盖
type MatcherProfile struct {
	Decoder DecoderProfile `yaml:"decoder"`
	Query   QueryProfile   `yaml:"query"`
	Vector  VectorProfile  `yaml:"vector"`
	Hybrid  HybridProfile  `yaml:"hybrid"`
	Smart   SmartProfile   `yaml:"smart"`
	Emotion EmotionProfile `yaml:"emotion"`

	// 在向量检索与情绪回退之间插入一层词法检索
	LexicalFallback bool `yaml:"lexical_fallback"`
	// 批量匹配时是否重新匹配绑定了占位镜头的分镜
	RetryPlaceholders bool `yaml:"retry_placeholders"`
}

type DecoderProfile struct {
	MinShotsPerScene  int     `yaml:"min_shots_per_scene"`
	DefaultEmotion    string  `yaml:"default_emotion"`
	DefaultDuration   float64 `yaml:"default_duration"`
	ExtractedDuration float64 `yaml:"extracted_duration"`
}

type QueryProfile struct {
	MinResidueRunes int      `yaml:"min_residue_runes"`
	Emotions        []string `yaml:"emotions"`
	NeutralEmotions []string `yaml:"neutral_emotions"`
	CJKSuffix       string   `yaml:"cjk_suffix"`
	LatinSuffix     string   `yaml:"latin_suffix"`
}

type VectorProfile struct {
	TopK       int      `yaml:"top_k"`
	Threshold  float64  `yaml:"threshold"`
	FilterTags []string `yaml:"filter_tags"`
}

type HybridProfile struct {
	TagWeight      float64 `yaml:"tag_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`
}

type SmartProfile struct {
	MinQueryRunes int      `yaml:"min_query_runes"`
	Keywords      []string `yaml:"keywords"`
	Threshold     float64  `yaml:"threshold"`
}

type EmotionProfile struct {
	TopK          int     `yaml:"top_k"`
	ExactScore    float64 `yaml:"exact_score"`
	FallbackScore float64 `yaml:"fallback_score"`
	Decay         float64 `yaml:"decay"`
}

// DefaultProfile 默认参数
func DefaultProfile() *MatcherProfile {
	return &MatcherProfile{
		Decoder: DecoderProfile{
			MinShotsPerScene:  3,
			DefaultEmotion:    "平静",
			DefaultDuration:   5.0,
			ExtractedDuration: 3.0,
		},
		Query: QueryProfile{
			MinResidueRunes: 5,
			Emotions: []string{
				"紧张", "焦虑", "恐惧", "释然", "平静", "愤怒", "悲伤", "喜悦", "中性",
				"tense", "anxious", "fear", "relief", "calm", "angry", "sad", "joy", "happy", "neutral",
			},
			NeutralEmotions: []string{"平静", "中性", "calm", "neutral"},
			CJKSuffix:       "氛围",
			LatinSuffix:     "atmosphere",
		},
		Vector: VectorProfile{
			TopK:      5,
			Threshold: 0.1,
		},
		Hybrid: HybridProfile{
			TagWeight:      0.6,
			SemanticWeight: 0.4,
		},
		Smart: SmartProfile{
			MinQueryRunes: 3,
			Keywords: []string{
				"特写", "近景", "中景", "全景", "远景", "室内", "室外", "人物",
				"紧张", "平静", "快乐", "悲伤", "白天", "夜晚",
				"close-up", "medium", "wide", "indoor", "outdoor",
				"happy", "sad", "calm", "tense", "day", "night",
			},
			Threshold: 0,
		},
		Emotion: EmotionProfile{
			TopK:          5,
			ExactScore:    0.8,
			FallbackScore: 0.5,
			Decay:         0.1,
		},
	}
}

// LoadProfile 读取 YAML 文件覆盖默认值；path 为空时返回默认参数
func LoadProfile(path string) (*MatcherProfile, error) {
	profile := DefaultProfile()
	if path == "" {
		return profile, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read matcher profile: %w", err)
	}
	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("parse matcher profile %s: %w", path, err)
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid matcher profile %s: %w", path, err)
	}
	return profile, nil
}

// Validate 检查取值范围
func (p *MatcherProfile) Validate() error {
	switch {
	case p.Decoder.MinShotsPerScene < 1:
		return fmt.Errorf("decoder.min_shots_per_scene must be >= 1")
	case p.Decoder.DefaultDuration <= 0 || p.Decoder.ExtractedDuration <= 0:
		return fmt.Errorf("decoder durations must be positive")
	case p.Vector.TopK < 1 || p.Emotion.TopK < 1:
		return fmt.Errorf("top_k must be >= 1")
	case p.Vector.Threshold < 0 || p.Vector.Threshold > 1:
		return fmt.Errorf("vector.threshold must be within [0,1]")
	case p.Hybrid.TagWeight < 0 || p.Hybrid.SemanticWeight < 0:
		return fmt.Errorf("hybrid weights must not be negative")
	case p.Query.MinResidueRunes < 0 || p.Smart.MinQueryRunes < 0:
		return fmt.Errorf("rune thresholds must not be negative")
	}
	return nil
}
