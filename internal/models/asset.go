// internal/models/asset.go
package models

import "strings"

// AssetStatus 素材处理状态
type AssetStatus string

const (
	AssetPending    AssetStatus = "pending"
	AssetProcessing AssetStatus = "processing"
	AssetReady      AssetStatus = "ready"
	AssetError      AssetStatus = "error"
)

// 占位素材的标签
const (
	TagPlaceholder = "placeholder"
	TagUnmatched   = "unmatched"
)

// Asset 媒体库中的一个镜头素材
type Asset struct {
	ID           string        `json:"id"`
	Label        string        `json:"label"`
	Emotion      string        `json:"emotion"`
	Duration     float64       `json:"duration"`
	FilePath     string        `json:"file_path"`
	Status       AssetStatus   `json:"status"`
	Tags         []string      `json:"tags,omitempty"`
	ClipMetadata *ClipMetadata `json:"clip_metadata,omitempty"`
	VLMMetadata  *VLMMetadata  `json:"vlm_metadata,omitempty"`
}

// ClipMetadata 向量模型提取的结构化描述
type ClipMetadata struct {
	Tags        []string `json:"tags,omitempty"`
	Description string   `json:"description,omitempty"`
	Emotions    []string `json:"emotions,omitempty"`
}

// VLMMetadata 视觉语言模型生成的描述
type VLMMetadata struct {
	Description string `json:"description,omitempty"`
}

// IsPlaceholder 是否为匹配失败时生成的占位素材
func (a *Asset) IsPlaceholder() bool {
	return a.FilePath == "" && a.HasTag(TagPlaceholder)
}

// EmbeddingTags 向量元数据中的标签
func (a *Asset) EmbeddingTags() []string {
	if a.ClipMetadata == nil {
		return nil
	}
	return a.ClipMetadata.Tags
}

// Descriptions 所有自然语言描述
func (a *Asset) Descriptions() []string {
	var out []string
	if a.VLMMetadata != nil && a.VLMMetadata.Description != "" {
		out = append(out, a.VLMMetadata.Description)
	}
	if a.ClipMetadata != nil && a.ClipMetadata.Description != "" {
		out = append(out, a.ClipMetadata.Description)
	}
	return out
}

// HasTag 大小写不敏感
func (a *Asset) HasTag(tag string) bool {
	tag = strings.ToLower(tag)
	for _, t := range a.Tags {
		if strings.ToLower(t) == tag {
			return true
		}
	}
	for _, t := range a.EmbeddingTags() {
		if strings.ToLower(t) == tag {
			return true
		}
	}
	return false
}
