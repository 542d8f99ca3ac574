package services

import (
	"testing"

	"github.com/Corphon/StoryboardMCP/internal/models"
)

func TestAssignPlaceholderWhenNoCandidates(t *testing.T) {
	a := NewClipAssigner()
	project := &models.Project{Scenes: sampleScenes(1)}
	block := project.Scenes[0].Blocks[0]

	got, err := a.Assign(project, block, nil)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if !got.Placeholder || !got.AssetCreated {
		t.Fatalf("assignment = %+v", got)
	}
	if len(project.Assets) != 1 || !project.Assets[0].IsPlaceholder() {
		t.Fatalf("assets = %+v", project.Assets)
	}
	if project.Assets[0].Status != models.AssetPending {
		t.Fatalf("placeholder status = %s", project.Assets[0].Status)
	}
	clip, ok := project.ClipForBlock(block.ID)
	if !ok || clip.ShotID != project.Assets[0].ID || !clip.Valid() {
		t.Fatalf("clip = %+v", clip)
	}
}

func TestAssignReusesExistingAssetAndClampsTrim(t *testing.T) {
	a := NewClipAssigner()
	project := &models.Project{Scenes: sampleScenes(1), Assets: sampleAssets()}
	block := project.Scenes[0].Blocks[0]

	// a2 只有 2 秒，分镜预计 3 秒
	got, err := a.Assign(project, block, []models.MatchResult{{ShotID: "a2", Similarity: 0.9}})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if got.AssetCreated || got.Placeholder {
		t.Fatalf("assignment = %+v", got)
	}
	if len(project.Assets) != 3 {
		t.Fatalf("existing asset should be reused, assets = %d", len(project.Assets))
	}
	if got.Clip.TrimIn != 0 || got.Clip.TrimOut != 2 || got.Clip.Duration != 2 {
		t.Fatalf("clip = %+v", got.Clip)
	}
}

func TestAssignCreatesAssetFromVectorCandidate(t *testing.T) {
	a := NewClipAssigner()
	project := &models.Project{Scenes: sampleScenes(1)}
	block := project.Scenes[0].Blocks[0]

	candidate := models.MatchResult{
		ShotID:      "remote-1",
		FilePath:    "/lib/remote-1.mp4",
		Label:       "remote",
		Duration:    10,
		Description: "city lights",
		Emotions:    []string{"紧张"},
		MatchType:   models.MatchVector,
	}
	got, err := a.Assign(project, block, []models.MatchResult{candidate})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if !got.AssetCreated || got.Asset.ID != "remote-1" || got.Asset.Status != models.AssetReady {
		t.Fatalf("assignment = %+v", got)
	}
	if got.Asset.Emotion != "紧张" || got.Asset.ClipMetadata == nil || got.Asset.ClipMetadata.Description != "city lights" {
		t.Fatalf("asset = %+v", got.Asset)
	}
	if got.Clip.TrimOut != block.ExpectedDuration {
		t.Fatalf("trim out = %v", got.Clip.TrimOut)
	}

	// 同一文件路径的第二个候选复用该素材
	again, err := a.Assign(project, block, []models.MatchResult{{FilePath: "/lib/remote-1.mp4"}})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if again.AssetCreated || again.Asset.ID != "remote-1" {
		t.Fatalf("second assignment = %+v", again)
	}
	if len(project.Clips) != 1 {
		t.Fatalf("clip should be replaced, clips = %d", len(project.Clips))
	}
}

func TestAssignDefaultsDurationWhenUnknown(t *testing.T) {
	a := NewClipAssigner()
	project := &models.Project{}
	block := models.ScriptBlock{ID: "b0", Scene: "s"}

	got, err := a.Assign(project, block, nil)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if got.Clip.TrimOut != defaultClipSeconds {
		t.Fatalf("trim out = %v", got.Clip.TrimOut)
	}
}
