package services

import (
	"context"
	"sync"
	"testing"
	"time"

	apperrors "github.com/Corphon/StoryboardMCP/internal/errors"
	"github.com/Corphon/StoryboardMCP/internal/models"
	"github.com/Corphon/StoryboardMCP/internal/vectorsearch"
)

type fakeLister struct {
	files []vectorsearch.LibraryFile
	err   error
	last  vectorsearch.ListRequest
}

func (f *fakeLister) List(ctx context.Context, req vectorsearch.ListRequest) (*vectorsearch.ListResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &vectorsearch.ListResponse{Files: f.files}, nil
}

func TestLibrarySyncAddsNewFiles(t *testing.T) {
	projects := newTestProjectService(t)
	p := seedProject(t, projects, nil, sampleAssets())
	// 前两个文件的路径或 ID 已存在
	lister := &fakeLister{files: []vectorsearch.LibraryFile{
		{FilePath: "/v/a1.mp4"},
		{FilePath: "/v/new.mp4", ShotID: "a2"},
		{FilePath: "/v/fresh_take.mp4", Status: "ready", Duration: 6},
		{FilePath: "/v/other.mov", ShotID: "s9", Label: "other"},
		{FilePath: ""},
	}}
	lib := NewLibraryService(lister, projects, "/data/videos")

	report, err := lib.Sync(context.Background(), p.ID, "", 0)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.Listed != 5 || report.Added != 2 || report.Skipped != 3 {
		t.Fatalf("report = %+v", report)
	}
	if lister.last.Directory != "/data/videos" || lister.last.Limit != defaultLibraryLimit {
		t.Fatalf("list request = %+v", lister.last)
	}

	p, _ = projects.GetProject(p.ID)
	if len(p.Assets) != 5 {
		t.Fatalf("assets = %d", len(p.Assets))
	}
	fresh := p.Assets[3]
	if fresh.Label != "fresh_take" || fresh.Status != models.AssetReady || fresh.ID == "" {
		t.Fatalf("fresh = %+v", fresh)
	}
	if other, ok := p.FindAsset("s9"); !ok || other.Status != models.AssetPending {
		t.Fatalf("other = %+v", other)
	}

	// 再次同步不会重复添加
	report, err = lib.Sync(context.Background(), p.ID, "/elsewhere", 10)
	if err != nil || report.Added != 0 {
		t.Fatalf("resync = %+v, %v", report, err)
	}
	if lister.last.Directory != "/elsewhere" || lister.last.Limit != 10 {
		t.Fatalf("list request = %+v", lister.last)
	}
}

func TestLibrarySyncErrors(t *testing.T) {
	projects := newTestProjectService(t)
	lib := NewLibraryService(&fakeLister{err: apperrors.NewRetrievalTransportError("down", nil)}, projects, "/data")

	if _, err := lib.Sync(context.Background(), "00000000-0000-0000-0000-000000000000", "", 0); !apperrors.IsNotFoundError(err) {
		t.Fatalf("unknown project err = %v", err)
	}
	p := seedProject(t, projects, nil, nil)
	if _, err := lib.Sync(context.Background(), p.ID, "", 0); !apperrors.IsRetrievalTransportError(err) {
		t.Fatalf("lister err = %v", err)
	}
}

func TestScheduledSyncDispatchesEveryProject(t *testing.T) {
	projects := newTestProjectService(t)
	a := seedProject(t, projects, nil, nil)
	b := seedProject(t, projects, nil, nil)
	lib := NewLibraryService(&fakeLister{}, projects, "/data")

	if err := lib.StartScheduledSync("every other tuesday", nil); err == nil {
		t.Fatal("invalid cron expression should fail")
	}

	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		done = make(chan struct{})
	)
	err := lib.StartScheduledSync("@every 1s", func(id string) error {
		mu.Lock()
		defer mu.Unlock()
		seen[id] = true
		if len(seen) == 2 {
			select {
			case <-done:
			default:
				close(done)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("StartScheduledSync: %v", err)
	}
	defer lib.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled sync did not run")
	}
	mu.Lock()
	defer mu.Unlock()
	if !seen[a.ID] || !seen[b.ID] {
		t.Fatalf("seen = %v", seen)
	}
}
