// internal/services/script_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/Corphon/StoryboardMCP/internal/config"
	apperrors "github.com/Corphon/StoryboardMCP/internal/errors"
	"github.com/Corphon/StoryboardMCP/internal/llm"
	"github.com/Corphon/StoryboardMCP/internal/models"
	"github.com/Corphon/StoryboardMCP/internal/utils"
)

const (
	analysisTemperature = 0.3
	analysisTopP        = 0.8
	analysisMaxTokens   = 12000
)

const storyboardSystemPrompt = `你是一位资深的影视分镜师，擅长将剧本拆解为专业的分镜镜头序列。

核心规则：
1. 每个场景必须拆解为至少3-10个独立镜头
2. 禁止将整个段落作为1个镜头
3. 禁止一句话作为1个镜头
4. 必须为每个视觉瞬间设计独立镜头

你必须严格遵守这些规则，否则结果不可用。`

const cinematographyKnowledge = `景别：远景交代环境，全景呈现人物与空间关系，中景表现动作与交流，近景突出表情，特写强调细节与情绪。
节奏：紧张段落使用更短的镜头（1.5-2.5s），抒情或交代段落使用较长镜头（3-5s）。
连贯：同一动作跨镜头时保持视线方向与运动方向一致；情绪转折处用特写或反应镜头。`

// StoryboardShot 提示词中约定的镜头结构
type StoryboardShot struct {
	ID               string  `json:"id" jsonschema_description:"镜头ID，例如 block_1_1"`
	Scene            string  `json:"scene" jsonschema_description:"所属场景名称"`
	Text             string  `json:"text" jsonschema_description:"格式：[景别] 内容 | 情绪 | 时长"`
	Emotion          string  `json:"emotion" jsonschema:"enum=紧张,enum=焦虑,enum=恐惧,enum=释然,enum=平静,enum=愤怒,enum=悲伤,enum=喜悦"`
	ExpectedDuration float64 `json:"expected_duration" jsonschema_description:"镜头时长（秒）"`
}

// StoryboardScene 提示词中约定的场景结构
type StoryboardScene struct {
	ID     string           `json:"id"`
	Name   string           `json:"name" jsonschema_description:"INT./EXT. 地点 - 时间"`
	Blocks []StoryboardShot `json:"blocks" jsonschema:"minItems=3"`
}

// StoryboardResponse 模型应返回的顶层结构
type StoryboardResponse struct {
	Scenes []StoryboardScene `json:"scenes"`
}

// GenerateSchema 由 Go 类型生成 JSON Schema
func GenerateSchema[T any]() interface{} {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// storyboardSchemaJSON 在包初始化时生成，生成失败说明类型定义有误
var storyboardSchemaJSON = mustMarshalSchema(GenerateSchema[StoryboardResponse]())

func mustMarshalSchema(schema interface{}) []byte {
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("marshal storyboard schema: %v", err))
	}
	return data
}

// ScriptService 剧本分析：提示词、模型调用、解码与校验
type ScriptService struct {
	llm      *LLMService
	decoder  *ScriptDecoder
	projects *ProjectService
	metrics  *utils.MatchMetrics
	logger   *utils.Logger
}

func NewScriptService(llmService *LLMService, profile config.DecoderProfile, projects *ProjectService) *ScriptService {
	return &ScriptService{
		llm:      llmService,
		decoder:  NewScriptDecoder(profile),
		projects: projects,
		metrics:  utils.NewMatchMetrics(),
		logger:   utils.GetLogger(),
	}
}

// BuildStoryboardPrompt 拼装分镜拆解提示词
func BuildStoryboardPrompt(content string) string {
	var b strings.Builder
	b.WriteString("你是一位资深影视导演和分镜师。\n\n")
	b.WriteString("核心要求：必须将每个场景拆解为至少3-10个独立镜头，禁止整个场景作为一个镜头！\n\n")
	b.WriteString("## 拆解示例\n\n")
	b.WriteString("剧本：\"她坐在桌前，紧张地盯着屏幕，手指飞快地敲着键盘。屏幕突然闪了一下。\"\n")
	b.WriteString("拆解：\n")
	b.WriteString("1. [全景] 办公室内，她坐在桌前 | 平静 | 3.0s\n")
	b.WriteString("2. [中景] 她的上半身，眼神紧盯屏幕 | 焦虑 | 3.5s\n")
	b.WriteString("3. [特写] 手指在键盘上快速敲打 | 紧张 | 2.0s\n")
	b.WriteString("4. [特写] 屏幕突然闪烁 | 恐惧 | 2.0s\n\n")
	b.WriteString("## 知识库参考\n\n")
	b.WriteString(cinematographyKnowledge)
	b.WriteString("\n\n---\n\n现在处理以下剧本：\n\n")
	b.WriteString(content)
	b.WriteString("\n\n---\n\n## 拆解规则\n\n")
	b.WriteString("1. 镜头数量：每个场景至少 3 个镜头\n")
	b.WriteString("2. 镜头格式：[景别] 内容 | 情绪 | 时长\n")
	b.WriteString("3. 情绪选项：紧张、焦虑、恐惧、释然、平静、愤怒、悲伤、喜悦\n")
	b.WriteString("4. 返回的 JSON 必须符合以下 Schema：\n\n")
	b.Write(storyboardSchemaJSON)
	b.WriteString("\n\n直接返回JSON，每个场景至少3个镜头！")
	return b.String()
}

// AnalyzeScript 调用模型拆解剧本；解码失败是终止性的错误
func (s *ScriptService) AnalyzeScript(ctx context.Context, content, fileName string) (*models.ScriptAnalysis, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.NewValidationError("script content is empty", nil)
	}

	start := time.Now()
	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: storyboardSystemPrompt,
		Prompt:       BuildStoryboardPrompt(content),
		Temperature:  analysisTemperature,
		TopP:         analysisTopP,
		MaxTokens:    analysisMaxTokens,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("storyboard reply received", map[string]interface{}{
		"provider": resp.ProviderName,
		"model":    resp.ModelName,
		"length":   len(resp.Text),
	})

	analysis, err := s.DecodeReply(resp.Text)
	if err != nil {
		return nil, err
	}
	analysis.Metadata.FileName = fileName
	analysis.Metadata.AnalysisTimeMs = time.Since(start).Milliseconds()
	return analysis, nil
}

// DecodeReply 解码一段模型回复
func (s *ScriptService) DecodeReply(raw string) (*models.ScriptAnalysis, error) {
	doc, tier, err := s.decoder.Decode(raw)
	if err != nil {
		s.logger.Warn("storyboard decode failed", map[string]interface{}{
			"error": err.Error(),
			"type":  string(apperrors.TypeOf(err)),
		})
		return nil, err
	}
	s.metrics.RecordDecode(string(tier))

	blocks := doc.Blocks()
	return &models.ScriptAnalysis{
		Status:  "success",
		Scenes:  doc.Scenes,
		Blocks:  blocks,
		Summary: fmt.Sprintf("解析完成：%d 个场景，%d 个镜头", len(doc.Scenes), len(blocks)),
		Metadata: models.AnalysisMetadata{
			TotalScenes:       len(doc.Scenes),
			TotalBlocks:       len(blocks),
			EstimatedDuration: doc.TotalDuration(),
			DecodeTier:        string(tier),
		},
	}, nil
}

// AnalyzeForProject 分析并替换项目剧本
func (s *ScriptService) AnalyzeForProject(ctx context.Context, projectID, content, fileName string) (*models.ScriptAnalysis, error) {
	if _, err := s.projects.GetProject(projectID); err != nil {
		return nil, err
	}
	analysis, err := s.AnalyzeScript(ctx, content, fileName)
	if err != nil {
		return nil, err
	}
	return analysis, s.apply(projectID, analysis)
}

// DecodeForProject 解码外部提供的模型回复并替换项目剧本
func (s *ScriptService) DecodeForProject(projectID, raw string) (*models.ScriptAnalysis, error) {
	if _, err := s.projects.GetProject(projectID); err != nil {
		return nil, err
	}
	analysis, err := s.DecodeReply(raw)
	if err != nil {
		return nil, err
	}
	return analysis, s.apply(projectID, analysis)
}

func (s *ScriptService) apply(projectID string, analysis *models.ScriptAnalysis) error {
	_, err := s.projects.ReplaceScript(projectID, &models.ScriptDocument{Scenes: analysis.Scenes})
	if err == nil {
		s.logger.Info("project script replaced", map[string]interface{}{
			"project_id": projectID,
			"scenes":     analysis.Metadata.TotalScenes,
			"blocks":     analysis.Metadata.TotalBlocks,
		})
	}
	return err
}
