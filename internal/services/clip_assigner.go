// internal/services/clip_assigner.go
package services

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/Corphon/StoryboardMCP/internal/models"
	"github.com/Corphon/StoryboardMCP/internal/utils"
)

const defaultClipSeconds = 5.0

// Assignment 一次绑定的结果
type Assignment struct {
	Clip         models.Clip  `json:"clip"`
	Asset        models.Asset `json:"asset"`
	AssetCreated bool         `json:"asset_created"`
	Placeholder  bool         `json:"placeholder"`
}

// ClipAssigner 自动接受最佳候选并为分镜生成 Clip
type ClipAssigner struct {
	newID  func() string
	logger *utils.Logger
}

func NewClipAssigner() *ClipAssigner {
	return &ClipAssigner{
		newID:  func() string { return uuid.New().String() },
		logger: utils.GetLogger(),
	}
}

// Assign 修改 project：复用或新建素材，替换该分镜已有的 Clip
func (a *ClipAssigner) Assign(project *models.Project, block models.ScriptBlock, candidates []models.MatchResult) (*Assignment, error) {
	var (
		asset   models.Asset
		created bool
	)

	if len(candidates) == 0 {
		asset = a.placeholderAsset(block)
		project.Assets = append(project.Assets, asset)
		created = true
	} else {
		best := candidates[0]
		if existing := findAssetFor(project, best); existing != nil {
			asset = *existing
		} else {
			asset = a.assetFromCandidate(best)
			project.Assets = append(project.Assets, asset)
			created = true
		}
	}

	trimOut := block.ExpectedDuration
	if trimOut <= 0 {
		trimOut = defaultClipSeconds
	}
	if asset.Duration > 0 && asset.Duration < trimOut {
		trimOut = asset.Duration
	}
	clip, err := models.NewClip(a.newID(), block.ID, asset.ID, 0, trimOut)
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", block.ID, err)
	}

	replaced := false
	for i := range project.Clips {
		if project.Clips[i].ScriptBlockID == block.ID {
			project.Clips[i] = clip
			replaced = true
			break
		}
	}
	if !replaced {
		project.Clips = append(project.Clips, clip)
	}

	placeholder := asset.IsPlaceholder()
	utils.NewMatchMetrics().RecordAssignment(assignmentType(candidates, placeholder))
	a.logger.Debug("clip assigned", map[string]interface{}{
		"block_id":    block.ID,
		"shot_id":     asset.ID,
		"placeholder": placeholder,
		"created":     created,
		"replaced":    replaced,
	})

	return &Assignment{Clip: clip, Asset: asset, AssetCreated: created, Placeholder: placeholder}, nil
}

func assignmentType(candidates []models.MatchResult, placeholder bool) string {
	if placeholder || len(candidates) == 0 {
		return ""
	}
	return string(candidates[0].MatchType)
}

// findAssetFor 按 ID 或文件路径匹配已有素材
func findAssetFor(project *models.Project, c models.MatchResult) *models.Asset {
	for i := range project.Assets {
		a := &project.Assets[i]
		if c.ShotID != "" && a.ID == c.ShotID {
			return a
		}
		if c.FilePath != "" && a.FilePath == c.FilePath {
			return a
		}
	}
	return nil
}

func (a *ClipAssigner) assetFromCandidate(c models.MatchResult) models.Asset {
	id := c.ShotID
	if id == "" {
		id = a.newID()
	}
	emotion := ""
	if len(c.Emotions) > 0 {
		emotion = c.Emotions[0]
	}
	asset := models.Asset{
		ID:       id,
		Label:    c.Label,
		Emotion:  emotion,
		Duration: c.Duration,
		FilePath: c.FilePath,
		Status:   models.AssetReady,
		Tags:     append([]string(nil), c.Tags...),
	}
	if c.Description != "" || len(c.Emotions) > 0 {
		asset.ClipMetadata = &models.ClipMetadata{
			Tags:        append([]string(nil), c.Tags...),
			Description: c.Description,
			Emotions:    append([]string(nil), c.Emotions...),
		}
	}
	return asset
}

func (a *ClipAssigner) placeholderAsset(block models.ScriptBlock) models.Asset {
	return models.Asset{
		ID:       a.newID(),
		Label:    fmt.Sprintf("占位: %s", block.Scene),
		Emotion:  block.Emotion,
		Duration: block.ExpectedDuration,
		Status:   models.AssetPending,
		Tags:     []string{models.TagPlaceholder, models.TagUnmatched},
	}
}
