package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	apperrors "github.com/Corphon/StoryboardMCP/internal/errors"
	"github.com/Corphon/StoryboardMCP/internal/models"
	"github.com/Corphon/StoryboardMCP/internal/storage"
	"github.com/Corphon/StoryboardMCP/internal/vectorsearch"
)

var errVectorDown = errors.New("connection refused")

// fakeSearcher 记录调用次数的向量服务替身
type fakeSearcher struct {
	mu    sync.Mutex
	hits  []vectorsearch.Hit
	err   error
	calls int
}

func (f *fakeSearcher) Search(ctx context.Context, req vectorsearch.SearchRequest) (*vectorsearch.SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &vectorsearch.SearchResponse{Status: "success", Query: req.Query, Results: f.hits, Total: len(f.hits)}, nil
}

func (f *fakeSearcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// blockingSearcher 阻塞到调用方取消，然后像 HTTP 客户端那样包装错误
type blockingSearcher struct {
	started chan struct{}
	once    sync.Once
}

func newBlockingSearcher() *blockingSearcher {
	return &blockingSearcher{started: make(chan struct{})}
}

func (s *blockingSearcher) Search(ctx context.Context, req vectorsearch.SearchRequest) (*vectorsearch.SearchResponse, error) {
	s.once.Do(func() { close(s.started) })
	<-ctx.Done()
	return nil, apperrors.NewRetrievalTransportError("search request failed", ctx.Err())
}

func newTestProjectService(t *testing.T) *ProjectService {
	t.Helper()
	fs, err := storage.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}
	locks := NewLockManager()
	t.Cleanup(func() {
		fs.Close()
		locks.Close()
	})
	return NewProjectService(fs, locks)
}

// seedProject 创建项目并写入剧本与素材
func seedProject(t *testing.T, s *ProjectService, scenes []models.ScriptScene, assets []models.Asset) *models.Project {
	t.Helper()
	p, err := s.CreateProject("test")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	p, err = s.UpdateProject(p.ID, func(p *models.Project) error {
		p.Scenes = scenes
		p.Assets = assets
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateProject: %v", err)
	}
	return p
}

// sampleScenes 一个场景，n 个分镜
func sampleScenes(n int) []models.ScriptScene {
	scene := models.ScriptScene{ID: "scene_1", Name: "EXT. 街道 - 夜"}
	for i := 1; i <= n; i++ {
		scene.Blocks = append(scene.Blocks, models.ScriptBlock{
			ID:               fmt.Sprintf("b%d", i),
			SceneID:          scene.ID,
			Scene:            scene.Name,
			Text:             fmt.Sprintf("[全景] rainy street shot %d", i),
			Emotion:          "紧张",
			ExpectedDuration: 3,
		})
	}
	return []models.ScriptScene{scene}
}

func sampleAssets() []models.Asset {
	return []models.Asset{
		{ID: "a1", Label: "night street", Emotion: "紧张", Duration: 8, FilePath: "/v/a1.mp4", Status: models.AssetReady, Tags: []string{"night", "street"}},
		{ID: "a2", Label: "office", Emotion: "平静", Duration: 2, FilePath: "/v/a2.mp4", Status: models.AssetReady, Tags: []string{"office"}},
		{ID: "a3", Label: "rain window", Emotion: "紧张", Duration: 4, FilePath: "/v/a3.mp4", Status: models.AssetReady, Tags: []string{"rain"},
			VLMMetadata: &models.VLMMetadata{Description: "heavy rain on a window at night"}},
	}
}

func approx(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
