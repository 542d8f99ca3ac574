// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Corphon/StoryboardMCP/internal/config"
	"github.com/Corphon/StoryboardMCP/internal/di"
	"github.com/Corphon/StoryboardMCP/internal/jobs"
	"github.com/Corphon/StoryboardMCP/internal/services"
	"github.com/Corphon/StoryboardMCP/internal/storage"
	"github.com/Corphon/StoryboardMCP/internal/utils"
	"github.com/Corphon/StoryboardMCP/internal/vectorsearch"

	// 注册 LLM 提供商
	_ "github.com/Corphon/StoryboardMCP/internal/llm/providers/glm"
	_ "github.com/Corphon/StoryboardMCP/internal/llm/providers/openai"
	_ "github.com/Corphon/StoryboardMCP/internal/llm/providers/openrouter"
)

const shutdownTimeout = 30 * time.Second

// Server HTTP 服务器的最小接口，便于测试替换
type Server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// App 应用实例
type App struct {
	config   *config.Config
	server   Server
	stopChan chan os.Signal
	closers  []func()
	cancel   context.CancelFunc
}

var (
	instance *App
	mu       sync.Mutex
)

// GetApp 返回全局应用实例
func GetApp() *App {
	mu.Lock()
	defer mu.Unlock()
	if instance == nil {
		instance = &App{stopChan: make(chan os.Signal, 1)}
	}
	return instance
}

// GetConfig 启动配置
func (a *App) GetConfig() *config.Config {
	return a.config
}

// GetDIContainer 全局依赖容器
func GetDIContainer() *di.Container {
	return di.GetContainer()
}

// IsDebugMode 调试模式
func IsDebugMode() bool {
	mu.Lock()
	defer mu.Unlock()
	return instance != nil && instance.config != nil && instance.config.DebugMode
}

// InitServices 按依赖顺序创建服务并注册到容器
func InitServices(cfg *config.Config) error {
	a := GetApp()
	a.config = cfg
	logger := utils.GetLogger()
	container := di.GetContainer()

	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		return fmt.Errorf("加载匹配参数失败: %w", err)
	}
	container.Register("profile", profile)

	// 1. 存储与锁
	fileStorage, err := storage.NewFileStorage(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("初始化文件存储失败: %w", err)
	}
	container.Register("storage", fileStorage)
	a.closers = append(a.closers, fileStorage.Close)

	locks := services.NewLockManager()
	container.Register("locks", locks)
	a.closers = append(a.closers, locks.Close)

	projectService := services.NewProjectService(fileStorage, locks)
	container.Register("project", projectService)

	// 2. LLM
	llmService := services.NewLLMService()
	container.Register("llm", llmService)
	if !llmService.IsReady() {
		logger.Warn("LLM service not ready, script analysis disabled until configured", map[string]interface{}{
			"state": llmService.GetReadyState(),
		})
	}

	scriptService := services.NewScriptService(llmService, profile.Decoder, projectService)
	container.Register("script", scriptService)

	// 3. 向量检索与匹配
	vectorClient := vectorsearch.NewClient(cfg.VectorEndpoint, cfg.VectorTimeout, cfg.VectorQPS)
	container.Register("vector", vectorClient)

	matcher := services.NewAssetMatcher(services.MatcherConfig{
		Profile: profile,
		Vector:  services.NewVectorAvailability(),
	}, vectorClient)
	matchService := services.NewMatchService(projectService, matcher, services.NewClipAssigner())
	container.Register("match", matchService)

	progressService := services.NewProgressService()
	container.Register("progress", progressService)

	batch := services.NewBatchOrchestrator(projectService, matchService, progressService, services.BatchOptions{
		Delay:             cfg.BatchDelay,
		RetryPlaceholders: profile.RetryPlaceholders,
	})
	container.Register("batch", batch)

	library := services.NewLibraryService(vectorClient, projectService, cfg.LibraryDir)
	container.Register("library", library)

	// 4. 任务队列(可选)
	var queue *jobs.Queue
	if cfg.RedisAddr != "" {
		queue = jobs.NewQueue(cfg.RedisAddr)
	}
	dispatcher := jobs.NewDispatcher(queue, batch)
	dispatcher.Register(library)
	container.Register("jobs", dispatcher)
	if queue != nil {
		if err := queue.Start(context.Background()); err != nil {
			queue.Stop()
			return fmt.Errorf("启动任务队列失败: %w", err)
		}
		a.closers = append(a.closers, queue.Stop)
		logger.Info("job queue enabled", map[string]interface{}{"redis": cfg.RedisAddr})
	}

	if cfg.LibrarySyncCron != "" {
		var dispatch func(string) error
		if dispatcher.HasQueue() {
			dispatch = dispatcher.EnqueueLibrarySync
		}
		if err := library.StartScheduledSync(cfg.LibrarySyncCron, dispatch); err != nil {
			return fmt.Errorf("无效的同步计划 %q: %w", cfg.LibrarySyncCron, err)
		}
		a.closers = append(a.closers, library.Stop)
	}

	// 5. 后台维护
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go cleanupLoop(ctx, progressService)
	utils.NewMatchMetrics().StartMetricsCollection(ctx, 5*time.Minute)

	logger.Info("services initialized", map[string]interface{}{
		"services":         len(container.GetNames()),
		"llm_provider":     llmService.GetProviderName(),
		"vector_endpoint":  cfg.VectorEndpoint,
		"lexical_fallback": profile.LexicalFallback,
	})
	return nil
}

func cleanupLoop(ctx context.Context, progress *services.ProgressService) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			progress.CleanupCompletedTasks(time.Hour)
		}
	}
}

// Run 启动 HTTP 服务并阻塞到收到退出信号
func Run(handler http.Handler) error {
	a := GetApp()
	if a.server == nil {
		port := "8080"
		if a.config != nil {
			port = a.config.Port
		}
		a.server = &http.Server{
			Addr:              ":" + port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	errChan := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	signal.Notify(a.stopChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(a.stopChan)

	select {
	case err := <-errChan:
		a.cleanup()
		return fmt.Errorf("启动服务器失败: %w", err)
	case sig := <-a.stopChan:
		utils.GetLogger().Info("shutting down", map[string]interface{}{"signal": sig.String()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := a.server.Shutdown(ctx)
	a.cleanup()
	if err != nil {
		return fmt.Errorf("服务器强制关闭: %w", err)
	}
	return nil
}

// cleanup 逆序释放资源，正在运行的批次会被取消
func (a *App) cleanup() {
	if a.cancel != nil {
		a.cancel()
	}
	if batch, ok := di.GetContainer().Get("batch").(*services.BatchOrchestrator); ok && a.config != nil {
		if projects, ok := di.GetContainer().Get("project").(*services.ProjectService); ok {
			if ids, err := projects.ListProjects(); err == nil {
				for _, id := range ids {
					batch.Cancel(id)
				}
			}
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	utils.GetLogger().Info("cleanup finished", nil)
}

// LogFilePath 日志文件位置
func LogFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.LogDir, "storyboard.log")
}
