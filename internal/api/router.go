// internal/api/router.go
package api

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/StoryboardMCP/internal/di"
	"github.com/Corphon/StoryboardMCP/internal/jobs"
	"github.com/Corphon/StoryboardMCP/internal/services"
	"github.com/Corphon/StoryboardMCP/internal/utils"
	"github.com/Corphon/StoryboardMCP/internal/vectorsearch"
)

// RouterOptions 路由参数
type RouterOptions struct {
	DebugMode          bool
	RateLimitPerMinute int
}

// SetupRouter 从容器获取服务并配置路由
func SetupRouter(opts RouterOptions) (*gin.Engine, error) {
	container := di.GetContainer()
	h := &Handler{Response: NewResponseHelper(), Metrics: utils.NewMatchMetrics()}

	var err error
	if h.Projects, err = di.Resolve[*services.ProjectService](container, "project"); err != nil {
		return nil, fmt.Errorf("项目服务未正确初始化: %w", err)
	}
	if h.Scripts, err = di.Resolve[*services.ScriptService](container, "script"); err != nil {
		return nil, fmt.Errorf("剧本服务未正确初始化: %w", err)
	}
	if h.Match, err = di.Resolve[*services.MatchService](container, "match"); err != nil {
		return nil, fmt.Errorf("匹配服务未正确初始化: %w", err)
	}
	if h.Batch, err = di.Resolve[*services.BatchOrchestrator](container, "batch"); err != nil {
		return nil, fmt.Errorf("批量匹配服务未正确初始化: %w", err)
	}
	if h.Jobs, err = di.Resolve[*jobs.Dispatcher](container, "jobs"); err != nil {
		return nil, fmt.Errorf("任务分发器未正确初始化: %w", err)
	}
	if h.Library, err = di.Resolve[*services.LibraryService](container, "library"); err != nil {
		return nil, fmt.Errorf("媒体库服务未正确初始化: %w", err)
	}
	if h.LLM, err = di.Resolve[*services.LLMService](container, "llm"); err != nil {
		return nil, fmt.Errorf("LLM服务未正确初始化: %w", err)
	}
	// 向量服务可缺省，仅影响 /api/vector/status 的探活
	if client, err := di.Resolve[*vectorsearch.Client](container, "vector"); err == nil {
		h.Vector = client
	}

	return NewRouter(h, opts), nil
}

// NewRouter 注册所有路由
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	if !opts.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if h.Response == nil {
		h.Response = NewResponseHelper()
	}
	if h.Metrics == nil {
		h.Metrics = utils.NewMatchMetrics()
	}
	if h.Jobs == nil {
		h.Jobs = jobs.NewDispatcher(nil, h.Batch)
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestMetrics(h.Metrics), corsMiddleware())

	progressWS := NewBatchProgressWebSocket(h.Batch)

	r.GET("/health", h.Health)
	r.GET("/ws/batch/:id", progressWS.Serve)

	api := r.Group("/api")
	if opts.RateLimitPerMinute > 0 {
		api.Use(RateLimitByIP(NewRateLimiter(opts.RateLimitPerMinute, opts.RateLimitPerMinute/4+1)))
	}
	{
		api.GET("/metrics", h.GetMetrics)
		api.GET("/ws/status", func(c *gin.Context) {
			h.Response.Success(c, progressWS.manager.GetStatus())
		})

		api.POST("/projects", h.CreateProject)

		projectGroup := api.Group("/projects/:id")
		{
			projectGroup.GET("", h.GetProject)
			projectGroup.GET("/status", h.GetProjectStatus)

			projectGroup.POST("/script/analyze", h.AnalyzeScript)
			projectGroup.POST("/script/decode", h.DecodeScript)

			projectGroup.POST("/assets/sync", h.SyncAssets)
			projectGroup.GET("/assets", h.ListAssets)

			projectGroup.POST("/blocks/:block_id/match", h.MatchBlock)
			projectGroup.POST("/match/batch", h.StartBatch)
			projectGroup.GET("/match/batch", h.GetBatch)
			projectGroup.DELETE("/match/batch", h.CancelBatch)

			projectGroup.POST("/search", h.Search)
			projectGroup.GET("/search/suggestions", h.SearchSuggestions)
		}

		vectorGroup := api.Group("/vector")
		{
			vectorGroup.GET("/status", h.VectorStatus)
			vectorGroup.POST("/reset", h.VectorReset)
		}
	}
	return r
}
