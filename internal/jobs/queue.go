// internal/jobs/queue.go
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/Corphon/StoryboardMCP/internal/utils"
)

const (
	TaskBatchMatch  = "match:batch"
	TaskLibrarySync = "library:sync"
)

// Queue 基于 Redis 的任务队列
type Queue struct {
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	inspector *asynq.Inspector
}

// NewQueue 批量匹配是串行的，因此单 worker
func NewQueue(redisAddr string) *Queue {
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}
	client := asynq.NewClient(redisOpt)
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 1,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			Logger: asynqLogger{},
		},
	)
	return &Queue{
		client:    client,
		server:    server,
		mux:       asynq.NewServeMux(),
		inspector: asynq.NewInspector(redisOpt),
	}
}

func isTaskConflict(err error) bool {
	if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "task ID conflicts") || strings.Contains(msg, "duplicate task")
}

// EnqueueUnique 以确定的 TaskID 入队；同 ID 的任务仍在运行时跳过，已结束的旧任务会先被删除
func (q *Queue) EnqueueUnique(taskType string, payload interface{}, uniqueID string, opts ...asynq.Option) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	opts = append(opts, asynq.TaskID(uniqueID))
	task := asynq.NewTask(taskType, data, opts...)

	info, err := q.client.Enqueue(task)
	if err == nil {
		return info.ID, nil
	}
	if !isTaskConflict(err) {
		return "", fmt.Errorf("enqueue: %w", err)
	}

	for _, queueName := range []string{"default", "critical", "low"} {
		if delErr := q.inspector.DeleteTask(queueName, uniqueID); delErr == nil {
			utils.GetLogger().Info("cleared finished task", map[string]interface{}{
				"task_id": uniqueID,
				"queue":   queueName,
			})
			if info, err = q.client.Enqueue(task); err == nil {
				return info.ID, nil
			}
			break
		}
	}

	if isTaskConflict(err) {
		return "", ErrTaskActive
	}
	return "", fmt.Errorf("enqueue: %w", err)
}

// ErrTaskActive 同 ID 的任务仍在排队或运行
var ErrTaskActive = errors.New("task already queued or running")

func (q *Queue) RegisterHandler(taskType string, handler asynq.Handler) {
	q.mux.Handle(taskType, handler)
}

func (q *Queue) Enqueue(taskType string, payload interface{}, opts ...asynq.Option) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	info, err := q.client.Enqueue(asynq.NewTask(taskType, data, opts...))
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	return info.ID, nil
}

func (q *Queue) Start(ctx context.Context) error {
	utils.GetLogger().Info("job queue worker starting", nil)
	return q.server.Start(q.mux)
}

func (q *Queue) Stop() {
	q.server.Shutdown()
	q.client.Close()
	q.inspector.Close()
}

// asynqLogger 把 asynq 日志转到应用日志
type asynqLogger struct{}

func (asynqLogger) Debug(args ...interface{}) { utils.GetLogger().Debug(fmt.Sprint(args...), nil) }
func (asynqLogger) Info(args ...interface{})  { utils.GetLogger().Info(fmt.Sprint(args...), nil) }
func (asynqLogger) Warn(args ...interface{})  { utils.GetLogger().Warn(fmt.Sprint(args...), nil) }
func (asynqLogger) Error(args ...interface{}) { utils.GetLogger().Error(fmt.Sprint(args...), nil) }
func (asynqLogger) Fatal(args ...interface{}) { utils.GetLogger().Fatal(fmt.Sprint(args...), nil) }
