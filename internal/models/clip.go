// internal/models/clip.go
package models

import (
	"fmt"
	"math"
)

// Clip 分镜与素材区间的绑定
type Clip struct {
	ID            string  `json:"id"`
	ScriptBlockID string  `json:"script_block_id"`
	ShotID        string  `json:"shot_id"`
	TrimIn        float64 `json:"trim_in"`
	TrimOut       float64 `json:"trim_out"`
	Duration      float64 `json:"duration"`
}

// NewClip 要求 trimOut > trimIn，时长由区间计算
func NewClip(id, blockID, shotID string, trimIn, trimOut float64) (Clip, error) {
	if trimIn < 0 {
		return Clip{}, fmt.Errorf("trim_in must not be negative, got %v", trimIn)
	}
	if !(trimOut > trimIn) {
		return Clip{}, fmt.Errorf("trim_out (%v) must be greater than trim_in (%v)", trimOut, trimIn)
	}
	return Clip{
		ID:            id,
		ScriptBlockID: blockID,
		ShotID:        shotID,
		TrimIn:        trimIn,
		TrimOut:       trimOut,
		Duration:      trimOut - trimIn,
	}, nil
}

// Valid 检查区间约束
func (c Clip) Valid() bool {
	return c.TrimOut > c.TrimIn && math.Abs(c.Duration-(c.TrimOut-c.TrimIn)) < 1e-9
}
