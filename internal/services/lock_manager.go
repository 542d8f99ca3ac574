// internal/services/lock_manager.go
package services

import (
	"sync"
	"time"
)

// LockManager 项目级读写锁
type LockManager struct {
	projectLocks map[string]*LockInfo
	globalLock   sync.Mutex
	lockTTL      time.Duration
	maxLocks     int
	stop         chan struct{}
	stopOnce     sync.Once
}

// LockInfo 包装锁和相关信息
type LockInfo struct {
	Mutex    *sync.RWMutex
	LastUsed time.Time
	refs     int
}

// NewLockManager 创建锁管理器并启动清理器
func NewLockManager() *LockManager {
	lm := &LockManager{
		projectLocks: make(map[string]*LockInfo),
		lockTTL:      30 * time.Minute,
		maxLocks:     200,
		stop:         make(chan struct{}),
	}
	go lm.cleanupLoop(5 * time.Minute)
	return lm
}

// Close 停止清理器
func (lm *LockManager) Close() {
	lm.stopOnce.Do(func() { close(lm.stop) })
}

// acquire 取得锁并增加引用计数，引用中的锁不会被清理
func (lm *LockManager) acquire(projectID string) *LockInfo {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	info, ok := lm.projectLocks[projectID]
	if !ok {
		info = &LockInfo{Mutex: &sync.RWMutex{}}
		lm.projectLocks[projectID] = info
	}
	info.refs++
	info.LastUsed = time.Now()
	return info
}

func (lm *LockManager) release(info *LockInfo) {
	lm.globalLock.Lock()
	info.refs--
	info.LastUsed = time.Now()
	lm.globalLock.Unlock()
}

// ExecuteWithProjectLock 在项目写锁保护下执行操作
func (lm *LockManager) ExecuteWithProjectLock(projectID string, fn func() error) error {
	info := lm.acquire(projectID)
	defer lm.release(info)

	info.Mutex.Lock()
	defer info.Mutex.Unlock()
	return fn()
}

// ExecuteWithProjectReadLock 在项目读锁保护下执行操作
func (lm *LockManager) ExecuteWithProjectReadLock(projectID string, fn func() error) error {
	info := lm.acquire(projectID)
	defer lm.release(info)

	info.Mutex.RLock()
	defer info.Mutex.RUnlock()
	return fn()
}

func (lm *LockManager) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-lm.stop:
			return
		case <-ticker.C:
			lm.cleanupUnusedLocks()
		}
	}
}

// cleanupUnusedLocks 锁数量过多时移除长时间未使用且无引用的锁
func (lm *LockManager) cleanupUnusedLocks() {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	if len(lm.projectLocks) <= lm.maxLocks {
		return
	}
	now := time.Now()
	for id, info := range lm.projectLocks {
		if info.refs == 0 && now.Sub(info.LastUsed) > lm.lockTTL {
			delete(lm.projectLocks, id)
		}
	}
}
