// internal/services/batch_orchestrator.go
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/Corphon/StoryboardMCP/internal/errors"
	"github.com/Corphon/StoryboardMCP/internal/models"
	"github.com/Corphon/StoryboardMCP/internal/utils"
)

// BatchOrchestrator 逐个匹配没有 Clip 的分镜；同一项目同时只允许一个批次
type BatchOrchestrator struct {
	projects          *ProjectService
	match             *MatchService
	progress          *ProgressService
	delay             time.Duration
	retryPlaceholders bool

	mu      sync.Mutex
	running map[string]context.CancelFunc

	metrics *utils.MatchMetrics
	logger  *utils.Logger
}

// BatchOptions 批量匹配参数
type BatchOptions struct {
	Delay             time.Duration
	RetryPlaceholders bool
}

func NewBatchOrchestrator(projects *ProjectService, match *MatchService, progress *ProgressService, opts BatchOptions) *BatchOrchestrator {
	if progress == nil {
		progress = NewProgressService()
	}
	return &BatchOrchestrator{
		projects:          projects,
		match:             match,
		progress:          progress,
		delay:             opts.Delay,
		retryPlaceholders: opts.RetryPlaceholders,
		running:           make(map[string]context.CancelFunc),
		metrics:           utils.NewMatchMetrics(),
		logger:            utils.GetLogger(),
	}
}

// Progress 进度服务
func (b *BatchOrchestrator) Progress() *ProgressService {
	return b.progress
}

// Status 当前或最近一次批次的进度
func (b *BatchOrchestrator) Status(projectID string) models.BatchProgress {
	if tracker, ok := b.progress.GetTracker(projectID); ok {
		return tracker.Snapshot()
	}
	return models.BatchProgress{ProjectID: projectID, State: models.BatchIdle}
}

// Cancel 取消正在运行的批次
func (b *BatchOrchestrator) Cancel(projectID string) bool {
	b.mu.Lock()
	cancel, ok := b.running[projectID]
	b.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Start 异步执行批次，返回初始进度
func (b *BatchOrchestrator) Start(ctx context.Context, projectID string) (models.BatchProgress, error) {
	runCtx, blocks, tracker, err := b.begin(context.WithoutCancel(ctx), projectID)
	if err != nil {
		return models.BatchProgress{}, err
	}
	initial := tracker.Snapshot()
	go b.run(runCtx, projectID, blocks, tracker)
	return initial, nil
}

// Run 同步执行批次直到所有初始未匹配的分镜都处理完毕或 ctx 取消
func (b *BatchOrchestrator) Run(ctx context.Context, projectID string) (models.BatchProgress, error) {
	runCtx, blocks, tracker, err := b.begin(ctx, projectID)
	if err != nil {
		return models.BatchProgress{}, err
	}
	b.run(runCtx, projectID, blocks, tracker)
	return tracker.Snapshot(), nil
}

// begin idle → running；已在运行时返回冲突
func (b *BatchOrchestrator) begin(ctx context.Context, projectID string) (context.Context, []models.ScriptBlock, *ProgressTracker, error) {
	project, err := b.projects.GetProject(projectID)
	if err != nil {
		return nil, nil, nil, err
	}
	blocks := b.pendingBlocks(project)

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, busy := b.running[projectID]; busy {
		return nil, nil, nil, apperrors.NewConflictError(fmt.Sprintf("batch matching already running for project %s", projectID), nil)
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.running[projectID] = cancel

	tracker := b.progress.CreateTracker(projectID, models.BatchProgress{
		ProjectID: projectID,
		State:     models.BatchRunning,
		Total:     len(blocks),
		StartedAt: time.Now(),
	})
	b.metrics.Collector().IncGauge("batch_running")
	return runCtx, blocks, tracker, nil
}

// pendingBlocks 没有 Clip 的分镜；开启重试时也包括绑定占位素材的分镜
func (b *BatchOrchestrator) pendingBlocks(p *models.Project) []models.ScriptBlock {
	var pending []models.ScriptBlock
	for _, block := range p.Blocks() {
		clip, ok := p.ClipForBlock(block.ID)
		if !ok {
			pending = append(pending, block)
			continue
		}
		if b.retryPlaceholders {
			if asset, found := p.FindAsset(clip.ShotID); found && asset.IsPlaceholder() {
				pending = append(pending, block)
			}
		}
	}
	return pending
}

func (b *BatchOrchestrator) run(ctx context.Context, projectID string, blocks []models.ScriptBlock, tracker *ProgressTracker) {
	defer func() {
		b.mu.Lock()
		if cancel, ok := b.running[projectID]; ok {
			cancel()
			delete(b.running, projectID)
		}
		b.mu.Unlock()
		b.metrics.Collector().DecGauge("batch_running")
	}()

	b.logger.Info("batch matching started", map[string]interface{}{
		"project_id": projectID,
		"total":      len(blocks),
	})

	cancelled := false
	for i, block := range blocks {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		tracker.Update(func(p *models.BatchProgress) {
			p.CurrentBlockID = block.ID
			p.CurrentBlockName = block.Scene
		})

		placeholder, err := b.processBlock(ctx, projectID, block)
		if err != nil && ctx.Err() != nil {
			cancelled = true
			break
		}
		tracker.Update(func(p *models.BatchProgress) {
			p.Current = i + 1
			switch {
			case err != nil:
				p.Failed++
			case placeholder:
				p.Placeholders++
			default:
				p.Matched++
			}
		})

		if b.delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(b.delay):
			}
		}
	}

	tracker.Complete(func(p *models.BatchProgress) {
		p.Cancelled = cancelled
		p.CurrentBlockID = ""
		p.CurrentBlockName = ""
	})
	final := tracker.Snapshot()
	b.logger.Info("batch matching finished", map[string]interface{}{
		"project_id":   projectID,
		"current":      final.Current,
		"total":        final.Total,
		"matched":      final.Matched,
		"placeholders": final.Placeholders,
		"failed":       final.Failed,
		"cancelled":    cancelled,
	})
}

// processBlock 单个分镜的失败按零候选处理，绑定占位素材
func (b *BatchOrchestrator) processBlock(ctx context.Context, projectID string, block models.ScriptBlock) (placeholder bool, err error) {
	candidates, matchErr := b.safeMatch(ctx, projectID, block)
	// 取消时正在处理的分镜保持未匹配，下个批次再处理
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if matchErr != nil {
		b.logger.Warn("block matching failed, binding placeholder", map[string]interface{}{
			"project_id": projectID,
			"block_id":   block.ID,
			"error":      matchErr.Error(),
		})
		candidates = nil
	}

	assignment, err := b.match.bind(projectID, block, candidates)
	if err != nil && len(candidates) > 0 {
		assignment, err = b.match.bind(projectID, block, nil)
	}
	if err != nil {
		b.logger.Error("failed to bind clip", map[string]interface{}{
			"project_id": projectID,
			"block_id":   block.ID,
			"error":      err.Error(),
		})
		return false, err
	}
	return assignment.Placeholder, nil
}

func (b *BatchOrchestrator) safeMatch(ctx context.Context, projectID string, block models.ScriptBlock) (candidates []models.MatchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("matcher panic: %v", r)
		}
	}()

	project, err := b.projects.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	outcome := b.match.Matcher().Match(ctx, block, project.Assets)
	return outcome.Candidates, nil
}
