package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/Corphon/StoryboardMCP/internal/config"
	apperrors "github.com/Corphon/StoryboardMCP/internal/errors"
	"github.com/Corphon/StoryboardMCP/internal/llm"
)

// fakeProvider 返回固定文本并记录请求
type fakeProvider struct {
	mu    sync.Mutex
	reply string
	err   error
	reqs  []llm.CompletionRequest
}

func (f *fakeProvider) Initialize(map[string]string) error { return nil }
func (f *fakeProvider) GetName() string                    { return "fake" }
func (f *fakeProvider) GetSupportedModels() []string       { return []string{"fake-model"} }

func (f *fakeProvider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Text: f.reply, ModelName: req.Model, ProviderName: "fake", TokensUsed: 42}, nil
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func newTestScriptService(t *testing.T, provider llm.Provider) (*ScriptService, *ProjectService) {
	t.Helper()
	projects := newTestProjectService(t)
	svc := NewLLMServiceWithProvider("fake", provider)
	return NewScriptService(svc, config.DefaultProfile().Decoder, projects), projects
}

func TestAnalyzeForProjectReplacesScript(t *testing.T) {
	provider := &fakeProvider{reply: "```json\n" + wellFormedScript + "\n```"}
	scripts, projects := newTestScriptService(t, provider)
	p := seedProject(t, projects, sampleScenes(5), sampleAssets())

	analysis, err := scripts.AnalyzeForProject(context.Background(), p.ID, "她坐在桌前，盯着屏幕。", "draft.txt")
	if err != nil {
		t.Fatalf("AnalyzeForProject: %v", err)
	}
	if analysis.Summary != "解析完成：1 个场景，3 个镜头" {
		t.Fatalf("summary = %q", analysis.Summary)
	}
	if analysis.Metadata.FileName != "draft.txt" || analysis.Metadata.DecodeTier != string(TierDirect) {
		t.Fatalf("metadata = %+v", analysis.Metadata)
	}
	if analysis.Metadata.EstimatedDuration != 7.5 {
		t.Fatalf("duration = %v", analysis.Metadata.EstimatedDuration)
	}

	req := provider.reqs[0]
	if req.Temperature != analysisTemperature || req.TopP != analysisTopP || req.MaxTokens != analysisMaxTokens {
		t.Fatalf("sampling params = %+v", req)
	}
	if req.SystemPrompt != storyboardSystemPrompt || !strings.Contains(req.Prompt, "她坐在桌前，盯着屏幕。") {
		t.Fatal("prompt does not carry the script")
	}
	if req.Model != "fake-model" {
		t.Fatalf("model = %q", req.Model)
	}

	p, _ = projects.GetProject(p.ID)
	if len(p.Blocks()) != 3 || len(p.Clips) != 0 {
		t.Fatalf("project blocks = %d clips = %d", len(p.Blocks()), len(p.Clips))
	}
}

func TestAnalyzeScriptUsesResponseCache(t *testing.T) {
	provider := &fakeProvider{reply: wellFormedScript}
	scripts, _ := newTestScriptService(t, provider)

	for i := 0; i < 2; i++ {
		if _, err := scripts.AnalyzeScript(context.Background(), "同一段剧本", ""); err != nil {
			t.Fatalf("AnalyzeScript: %v", err)
		}
	}
	if provider.calls() != 1 {
		t.Fatalf("provider calls = %d, want 1", provider.calls())
	}
}

func TestAnalyzeScriptErrors(t *testing.T) {
	scripts, projects := newTestScriptService(t, &fakeProvider{reply: "抱歉，我无法完成这个请求。"})
	p := seedProject(t, projects, sampleScenes(2), nil)

	if _, err := scripts.AnalyzeScript(context.Background(), "  ", ""); !apperrors.IsValidationError(err) {
		t.Fatalf("empty content err = %v", err)
	}

	if _, err := scripts.AnalyzeForProject(context.Background(), p.ID, "一些剧本", ""); !apperrors.IsDecodeError(err) {
		t.Fatalf("undecodable reply err = %v", err)
	}
	p, _ = projects.GetProject(p.ID)
	if len(p.Blocks()) != 2 {
		t.Fatal("failed analysis must not touch the project")
	}

	failing, _ := newTestScriptService(t, &fakeProvider{err: errors.New("503")})
	if _, err := failing.AnalyzeScript(context.Background(), "剧本", ""); !apperrors.IsUpstreamError(err) {
		t.Fatalf("provider failure err = %v", err)
	}

	notReady := NewScriptService(NewEmptyLLMService(), config.DefaultProfile().Decoder, projects)
	if _, err := notReady.AnalyzeScript(context.Background(), "剧本", ""); !apperrors.IsUpstreamError(err) {
		t.Fatalf("not ready err = %v", err)
	}
}

func TestDecodeForProject(t *testing.T) {
	scripts, projects := newTestScriptService(t, &fakeProvider{})
	p := seedProject(t, projects, nil, nil)

	analysis, err := scripts.DecodeForProject(p.ID, wellFormedScript)
	if err != nil {
		t.Fatalf("DecodeForProject: %v", err)
	}
	if analysis.Metadata.TotalBlocks != 3 {
		t.Fatalf("analysis = %+v", analysis.Metadata)
	}
	if _, err := scripts.DecodeForProject("00000000-0000-0000-0000-000000000000", wellFormedScript); !apperrors.IsNotFoundError(err) {
		t.Fatalf("unknown project err = %v", err)
	}
}

func TestStoryboardPromptEmbedsSchema(t *testing.T) {
	prompt := BuildStoryboardPrompt("剧本内容")
	for _, want := range []string{`"minItems":3`, `"expected_duration"`, "紧张", "剧本内容"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
}

func TestStoryboardSchemaMarshalling(t *testing.T) {
	var schema map[string]interface{}
	if err := json.Unmarshal(storyboardSchemaJSON, &schema); err != nil || schema["properties"] == nil {
		t.Fatalf("schema = %s, %v", storyboardSchemaJSON, err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("unmarshalable schema should panic")
		}
	}()
	mustMarshalSchema(make(chan int))
}
