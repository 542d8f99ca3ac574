// internal/api/handlers.go
package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/StoryboardMCP/internal/jobs"
	"github.com/Corphon/StoryboardMCP/internal/models"
	"github.com/Corphon/StoryboardMCP/internal/services"
	"github.com/Corphon/StoryboardMCP/internal/utils"
)

// HealthChecker 外部服务探活
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handler 处理API请求
type Handler struct {
	Projects *services.ProjectService
	Scripts  *services.ScriptService
	Match    *services.MatchService
	Batch    *services.BatchOrchestrator
	Jobs     *jobs.Dispatcher
	Library  *services.LibraryService
	LLM      *services.LLMService
	Vector   HealthChecker
	Metrics  *utils.MatchMetrics
	Response *ResponseHelper
}

// CreateProjectRequest 新建项目
type CreateProjectRequest struct {
	Name string `json:"name" binding:"required"`
}

// AnalyzeScriptRequest 剧本分析
type AnalyzeScriptRequest struct {
	Content  string `json:"content" binding:"required"`
	FileName string `json:"file_name"`
}

// DecodeScriptRequest 直接解码一段模型回复
type DecodeScriptRequest struct {
	Raw string `json:"raw" binding:"required"`
}

// SyncAssetsRequest 媒体库同步
type SyncAssetsRequest struct {
	Directory string `json:"directory"`
	Limit     int    `json:"limit"`
}

// Health 服务状态
func (h *Handler) Health(c *gin.Context) {
	vector := h.Match.Matcher().Availability().Status()
	h.Response.Success(c, gin.H{
		"status":           "ok",
		"llm_ready":        h.LLM.IsReady(),
		"llm_state":        h.LLM.GetReadyState(),
		"llm_provider":     h.LLM.GetProviderName(),
		"vector_available": vector.Available,
		"time":             time.Now().Format(time.RFC3339),
	})
}

// GetMetrics 运行指标
func (h *Handler) GetMetrics(c *gin.Context) {
	h.Response.Success(c, h.Metrics.Collector().GetMetrics())
}

// CreateProject 新建项目
func (h *Handler) CreateProject(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求参数", err.Error())
		return
	}
	project, err := h.Projects.CreateProject(req.Name)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Created(c, project)
}

// GetProject 项目详情
func (h *Handler) GetProject(c *gin.Context) {
	project, err := h.Projects.GetProject(c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, project)
}

// GetProjectStatus 播放前检查
func (h *Handler) GetProjectStatus(c *gin.Context) {
	status, err := h.Projects.CheckStatus(c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, status)
}

// AnalyzeScript 调用模型拆解剧本并替换项目剧本
func (h *Handler) AnalyzeScript(c *gin.Context) {
	var req AnalyzeScriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求参数", err.Error())
		return
	}
	if !h.LLM.IsReady() {
		h.Response.ServiceUnavailable(c, ErrorLLMServiceUnavailable, h.LLM.GetReadyState())
		return
	}

	analysis, err := h.Scripts.AnalyzeForProject(c.Request.Context(), c.Param("id"), req.Content, req.FileName)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, analysis, analysis.Summary)
}

// DecodeScript 解码外部提供的模型回复
func (h *Handler) DecodeScript(c *gin.Context) {
	var req DecodeScriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求参数", err.Error())
		return
	}
	analysis, err := h.Scripts.DecodeForProject(c.Param("id"), req.Raw)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, analysis, analysis.Summary)
}

// SyncAssets 从媒体库同步素材
func (h *Handler) SyncAssets(c *gin.Context) {
	var req SyncAssetsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.Response.BadRequest(c, "无效的请求参数", err.Error())
			return
		}
	}
	report, err := h.Library.Sync(c.Request.Context(), c.Param("id"), req.Directory, req.Limit)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, report)
}

// ListAssets 项目素材
func (h *Handler) ListAssets(c *gin.Context) {
	project, err := h.Projects.GetProject(c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	assets := project.Assets
	if assets == nil {
		assets = []models.Asset{}
	}
	h.Response.Success(c, gin.H{"assets": assets, "total": len(assets)})
}

// MatchBlock 匹配单个分镜
func (h *Handler) MatchBlock(c *gin.Context) {
	result, err := h.Match.MatchBlock(c.Request.Context(), c.Param("id"), c.Param("block_id"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, result)
}

// StartBatch 启动批量匹配
func (h *Handler) StartBatch(c *gin.Context) {
	progress, err := h.Jobs.StartBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Accepted(c, progress, "批量匹配已开始")
}

// GetBatch 批量匹配进度
func (h *Handler) GetBatch(c *gin.Context) {
	h.Response.Success(c, h.Batch.Status(c.Param("id")))
}

// CancelBatch 取消正在运行的批量匹配
func (h *Handler) CancelBatch(c *gin.Context) {
	if !h.Batch.Cancel(c.Param("id")) {
		h.Response.NotFound(c, "没有正在运行的批量匹配")
		return
	}
	h.Response.Success(c, h.Batch.Status(c.Param("id")), "已请求取消")
}

// Search 检索项目素材
func (h *Handler) Search(c *gin.Context) {
	var req models.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求参数", err.Error())
		return
	}
	switch req.Mode {
	case "", models.SearchModeSmart, models.SearchModeTags, models.SearchModeSemantic, models.SearchModeHybrid:
	default:
		h.Response.BadRequest(c, "不支持的检索模式: "+string(req.Mode))
		return
	}

	project, err := h.Projects.GetProject(c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	result := h.Match.Matcher().Ranker().Search(c.Request.Context(), project.Assets, req)
	if result.Results == nil {
		result.Results = []models.MatchResult{}
	}
	h.Response.Success(c, gin.H{
		"results":  result.Results,
		"strategy": result.Strategy,
		"total":    len(result.Results),
	})
}

// SearchSuggestions 检索建议
func (h *Handler) SearchSuggestions(c *gin.Context) {
	project, err := h.Projects.GetProject(c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	suggestions := services.Suggestions(project.Assets)
	if suggestions == nil {
		suggestions = []string{}
	}
	h.Response.Success(c, gin.H{"suggestions": suggestions})
}

// VectorStatus 向量检索熔断状态，可选探活
func (h *Handler) VectorStatus(c *gin.Context) {
	status := h.Match.Matcher().Availability().Status()
	data := gin.H{"breaker": status}

	if h.Vector != nil && c.Query("probe") == "true" {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := h.Vector.Health(ctx); err != nil {
			data["reachable"] = false
			data["probe_error"] = err.Error()
		} else {
			data["reachable"] = true
		}
	}
	h.Response.Success(c, data)
}

// VectorReset 操作员手动恢复向量检索
func (h *Handler) VectorReset(c *gin.Context) {
	availability := h.Match.Matcher().Availability()
	availability.Reset()
	utils.GetLogger().Info("vector search availability reset", map[string]interface{}{
		"request_id": c.GetString("request_id"),
	})
	h.Response.Success(c, availability.Status(), "向量检索已恢复")
}
