// internal/models/script.go
package models

// ScriptBlock 分镜：一个镜头的描述，最终绑定一个 Clip
type ScriptBlock struct {
	ID               string  `json:"id"`
	SceneID          string  `json:"scene_id"`
	Scene            string  `json:"scene"`
	Text             string  `json:"text"`
	Emotion          string  `json:"emotion"`
	ExpectedDuration float64 `json:"expected_duration"`
}

// ScriptScene 场景，拥有有序的分镜列表
type ScriptScene struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Blocks    []ScriptBlock `json:"blocks"`
	Collapsed bool          `json:"collapsed"`
}

// ScriptDocument 解码器的输出
type ScriptDocument struct {
	Scenes []ScriptScene `json:"scenes"`
}

// Blocks 按场景顺序展开所有分镜
func (d *ScriptDocument) Blocks() []ScriptBlock {
	var blocks []ScriptBlock
	for _, scene := range d.Scenes {
		blocks = append(blocks, scene.Blocks...)
	}
	return blocks
}

// TotalDuration 所有分镜预计时长之和
func (d *ScriptDocument) TotalDuration() float64 {
	total := 0.0
	for _, scene := range d.Scenes {
		for _, b := range scene.Blocks {
			total += b.ExpectedDuration
		}
	}
	return total
}

// ScriptAnalysis 剧本分析结果
type ScriptAnalysis struct {
	Status   string           `json:"status"`
	Scenes   []ScriptScene    `json:"scenes"`
	Blocks   []ScriptBlock    `json:"blocks"`
	Summary  string           `json:"summary"`
	Metadata AnalysisMetadata `json:"metadata"`
}

type AnalysisMetadata struct {
	FileName          string  `json:"file_name,omitempty"`
	TotalScenes       int     `json:"total_scenes"`
	TotalBlocks       int     `json:"total_blocks"`
	EstimatedDuration float64 `json:"estimated_duration"`
	AnalysisTimeMs    int64   `json:"analysis_time_ms"`
	DecodeTier        string  `json:"decode_tier"`
}
