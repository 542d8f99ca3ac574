// internal/jobs/tasks.go
package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	apperrors "github.com/Corphon/StoryboardMCP/internal/errors"
	"github.com/Corphon/StoryboardMCP/internal/models"
	"github.com/Corphon/StoryboardMCP/internal/services"
	"github.com/Corphon/StoryboardMCP/internal/utils"
)

// BatchMatchPayload 批量匹配任务
type BatchMatchPayload struct {
	ProjectID string `json:"project_id"`
}

// LibrarySyncPayload 媒体库同步任务
type LibrarySyncPayload struct {
	ProjectID string `json:"project_id"`
	Directory string `json:"directory,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// BatchRunner 同步执行批量匹配
type BatchRunner interface {
	Run(ctx context.Context, projectID string) (models.BatchProgress, error)
}

// LibrarySyncer 同步媒体库
type LibrarySyncer interface {
	Sync(ctx context.Context, projectID, directory string, limit int) (*services.SyncReport, error)
}

type BatchMatchHandler struct {
	runner BatchRunner
}

func NewBatchMatchHandler(runner BatchRunner) *BatchMatchHandler {
	return &BatchMatchHandler{runner: runner}
}

// ProcessTask 项目已有批次在运行时不重试
func (h *BatchMatchHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p BatchMatchPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal: %w: %w", err, asynq.SkipRetry)
	}

	progress, err := h.runner.Run(ctx, p.ProjectID)
	if err != nil {
		if apperrors.IsConflictError(err) || apperrors.IsNotFoundError(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}
	utils.GetLogger().Info("batch match task finished", map[string]interface{}{
		"project_id": p.ProjectID,
		"current":    progress.Current,
		"total":      progress.Total,
	})
	return nil
}

type LibrarySyncHandler struct {
	syncer LibrarySyncer
}

func NewLibrarySyncHandler(syncer LibrarySyncer) *LibrarySyncHandler {
	return &LibrarySyncHandler{syncer: syncer}
}

func (h *LibrarySyncHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p LibrarySyncPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal: %w: %w", err, asynq.SkipRetry)
	}
	if _, err := h.syncer.Sync(ctx, p.ProjectID, p.Directory, p.Limit); err != nil {
		if apperrors.IsNotFoundError(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}
	return nil
}

// Dispatcher 有队列时入队，否则在进程内执行
type Dispatcher struct {
	queue *Queue
	batch *services.BatchOrchestrator
}

func NewDispatcher(queue *Queue, batch *services.BatchOrchestrator) *Dispatcher {
	return &Dispatcher{queue: queue, batch: batch}
}

// Register 注册任务处理器
func (d *Dispatcher) Register(library LibrarySyncer) {
	if d.queue == nil {
		return
	}
	d.queue.RegisterHandler(TaskBatchMatch, NewBatchMatchHandler(d.batch))
	if library != nil {
		d.queue.RegisterHandler(TaskLibrarySync, NewLibrarySyncHandler(library))
	}
}

// StartBatch 启动批量匹配，返回当前进度
func (d *Dispatcher) StartBatch(ctx context.Context, projectID string) (models.BatchProgress, error) {
	if d.queue == nil {
		return d.batch.Start(ctx, projectID)
	}

	if status := d.batch.Status(projectID); status.State == models.BatchRunning {
		return status, apperrors.NewConflictError("batch matching already running for project "+projectID, nil)
	}
	_, err := d.queue.EnqueueUnique(TaskBatchMatch, BatchMatchPayload{ProjectID: projectID}, "batch:"+projectID, asynq.MaxRetry(0))
	if err == ErrTaskActive {
		return d.batch.Status(projectID), apperrors.NewConflictError("batch matching already queued for project "+projectID, err)
	}
	if err != nil {
		return models.BatchProgress{}, apperrors.NewProcessingError("enqueue batch match", err)
	}
	return models.BatchProgress{ProjectID: projectID, State: models.BatchIdle}, nil
}

// EnqueueLibrarySync 把项目的媒体库同步放入低优先级队列，同一项目排队中的任务不重复入队
func (d *Dispatcher) EnqueueLibrarySync(projectID string) error {
	if d.queue == nil {
		return fmt.Errorf("job queue not configured")
	}
	_, err := d.queue.EnqueueUnique(TaskLibrarySync, LibrarySyncPayload{ProjectID: projectID}, "library:"+projectID, asynq.Queue("low"))
	if err == ErrTaskActive {
		return nil
	}
	return err
}

// HasQueue 是否使用外部队列
func (d *Dispatcher) HasQueue() bool {
	return d.queue != nil
}
