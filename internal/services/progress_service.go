// internal/services/progress_service.go
package services

import (
	"sync"
	"time"

	"github.com/Corphon/StoryboardMCP/internal/models"
)

// ProgressTracker 跟踪一个项目的批量匹配进度
type ProgressTracker struct {
	TaskID      string
	progress    models.BatchProgress
	subscribers map[chan models.BatchProgress]bool
	done        chan struct{}
	finished    bool
	mutex       sync.Mutex
}

// ProgressService 管理所有进度跟踪器
type ProgressService struct {
	trackers map[string]*ProgressTracker
	mutex    sync.RWMutex
}

func NewProgressService() *ProgressService {
	return &ProgressService{
		trackers: make(map[string]*ProgressTracker),
	}
}

// CreateTracker 创建跟踪器；已结束的同名跟踪器会被替换
func (s *ProgressService) CreateTracker(taskID string, initial models.BatchProgress) *ProgressTracker {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if tracker, exists := s.trackers[taskID]; exists && !tracker.isFinished() {
		return tracker
	}

	tracker := &ProgressTracker{
		TaskID:      taskID,
		progress:    initial,
		subscribers: make(map[chan models.BatchProgress]bool),
		done:        make(chan struct{}),
	}
	s.trackers[taskID] = tracker
	return tracker
}

// GetTracker 获取进度跟踪器
func (s *ProgressService) GetTracker(taskID string) (*ProgressTracker, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	tracker, exists := s.trackers[taskID]
	return tracker, exists
}

// Snapshot 当前进度
func (t *ProgressTracker) Snapshot() models.BatchProgress {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.progress
}

// Update 修改进度并通知订阅者
func (t *ProgressTracker) Update(fn func(p *models.BatchProgress)) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	fn(&t.progress)
	t.broadcastLocked()
}

// Complete 标记结束；只生效一次
func (t *ProgressTracker) Complete(fn func(p *models.BatchProgress)) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.finished {
		return
	}
	if fn != nil {
		fn(&t.progress)
	}
	t.progress.State = models.BatchIdle
	t.progress.FinishedAt = time.Now()
	t.finished = true
	t.broadcastLocked()
	close(t.done)
}

// Done 结束信号
func (t *ProgressTracker) Done() <-chan struct{} {
	return t.done
}

func (t *ProgressTracker) isFinished() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.finished
}

// broadcastLocked 非阻塞发送，通道已满则跳过
func (t *ProgressTracker) broadcastLocked() {
	for subscriber := range t.subscribers {
		select {
		case subscriber <- t.progress:
		default:
		}
	}
}

// Subscribe 订阅进度更新，立即收到当前状态
func (t *ProgressTracker) Subscribe() chan models.BatchProgress {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	subscriber := make(chan models.BatchProgress, 16)
	t.subscribers[subscriber] = true
	subscriber <- t.progress
	return subscriber
}

// Unsubscribe 取消订阅
func (t *ProgressTracker) Unsubscribe(subscriber chan models.BatchProgress) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if _, ok := t.subscribers[subscriber]; ok {
		delete(t.subscribers, subscriber)
		close(subscriber)
	}
}

// CleanupCompletedTasks 清理已结束且超过 maxAge 的跟踪器
func (s *ProgressService) CleanupCompletedTasks(maxAge time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now()
	for id, tracker := range s.trackers {
		tracker.mutex.Lock()
		old := tracker.finished && now.Sub(tracker.progress.FinishedAt) > maxAge
		tracker.mutex.Unlock()
		if old {
			delete(s.trackers, id)
		}
	}
}
