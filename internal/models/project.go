// internal/models/project.go
package models

import "time"

// Project 一个剧本及其素材与时间线
type Project struct {
	ID         string                   `json:"id"`
	Name       string                   `json:"name"`
	CreatedAt  time.Time                `json:"created_at"`
	UpdatedAt  time.Time                `json:"updated_at"`
	Scenes     []ScriptScene            `json:"scenes"`
	Assets     []Asset                  `json:"assets"`
	Clips      []Clip                   `json:"clips"`
	Candidates map[string][]MatchResult `json:"candidates,omitempty"`
}

// Blocks 所有分镜
func (p *Project) Blocks() []ScriptBlock {
	doc := ScriptDocument{Scenes: p.Scenes}
	return doc.Blocks()
}

// ClipForBlock 返回分镜当前绑定的 Clip
func (p *Project) ClipForBlock(blockID string) (*Clip, bool) {
	for i := range p.Clips {
		if p.Clips[i].ScriptBlockID == blockID {
			return &p.Clips[i], true
		}
	}
	return nil, false
}

// FindAsset 按 ID 查找素材
func (p *Project) FindAsset(id string) (*Asset, bool) {
	for i := range p.Assets {
		if p.Assets[i].ID == id {
			return &p.Assets[i], true
		}
	}
	return nil, false
}

// FindBlock 按 ID 查找分镜
func (p *Project) FindBlock(id string) (*ScriptBlock, bool) {
	for i := range p.Scenes {
		for j := range p.Scenes[i].Blocks {
			if p.Scenes[i].Blocks[j].ID == id {
				return &p.Scenes[i].Blocks[j], true
			}
		}
	}
	return nil, false
}

// TimelineDuration 时间线总时长
func (p *Project) TimelineDuration() float64 {
	total := 0.0
	for _, c := range p.Clips {
		total += c.Duration
	}
	return total
}

// ProjectStatus 播放前的完整性检查
type ProjectStatus struct {
	HasScript          bool     `json:"has_script"`
	AllBlocksHaveClips bool     `json:"all_blocks_have_clips"`
	AllClipsHaveShots  bool     `json:"all_clips_have_shots"`
	MissingBlocks      []string `json:"missing_blocks"`
	MissingShots       []string `json:"missing_shots"`
	PlaceholderBlocks  []string `json:"placeholder_blocks"`
	TotalDuration      float64  `json:"total_duration"`
	ReadyToPlay        bool     `json:"ready_to_play"`
}

// BatchState 批量匹配状态
type BatchState string

const (
	BatchIdle    BatchState = "idle"
	BatchRunning BatchState = "running"
)

// BatchProgress 批量匹配进度
type BatchProgress struct {
	ProjectID        string     `json:"project_id"`
	State            BatchState `json:"state"`
	Current          int        `json:"current"`
	Total            int        `json:"total"`
	CurrentBlockID   string     `json:"current_block_id,omitempty"`
	CurrentBlockName string     `json:"current_block_name,omitempty"`
	Matched          int        `json:"matched"`
	Placeholders     int        `json:"placeholders"`
	Failed           int        `json:"failed"`
	StartedAt        time.Time  `json:"started_at,omitempty"`
	FinishedAt       time.Time  `json:"finished_at,omitempty"`
	Cancelled        bool       `json:"cancelled,omitempty"`
}
