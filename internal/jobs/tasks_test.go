package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"

	apperrors "github.com/Corphon/StoryboardMCP/internal/errors"
	"github.com/Corphon/StoryboardMCP/internal/models"
	"github.com/Corphon/StoryboardMCP/internal/services"
)

type fakeRunner struct {
	err error
	ids []string
}

func (f *fakeRunner) Run(ctx context.Context, projectID string) (models.BatchProgress, error) {
	f.ids = append(f.ids, projectID)
	return models.BatchProgress{ProjectID: projectID, Current: 2, Total: 2}, f.err
}

type fakeSyncer struct {
	err  error
	last LibrarySyncPayload
}

func (f *fakeSyncer) Sync(ctx context.Context, projectID, directory string, limit int) (*services.SyncReport, error) {
	f.last = LibrarySyncPayload{ProjectID: projectID, Directory: directory, Limit: limit}
	if f.err != nil {
		return nil, f.err
	}
	return &services.SyncReport{ProjectID: projectID}, nil
}

func TestBatchMatchHandler(t *testing.T) {
	runner := &fakeRunner{}
	h := NewBatchMatchHandler(runner)

	if err := h.ProcessTask(context.Background(), asynq.NewTask(TaskBatchMatch, []byte(`{"project_id":"p1"}`))); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if len(runner.ids) != 1 || runner.ids[0] != "p1" {
		t.Fatalf("runner ids = %v", runner.ids)
	}

	if err := h.ProcessTask(context.Background(), asynq.NewTask(TaskBatchMatch, []byte(`{`))); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("bad payload err = %v", err)
	}

	runner.err = apperrors.NewConflictError("already running", nil)
	if err := h.ProcessTask(context.Background(), asynq.NewTask(TaskBatchMatch, []byte(`{"project_id":"p1"}`))); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("conflict err = %v", err)
	}

	runner.err = errors.New("disk full")
	err := h.ProcessTask(context.Background(), asynq.NewTask(TaskBatchMatch, []byte(`{"project_id":"p1"}`)))
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("transient err should be retried, got %v", err)
	}
}

func TestLibrarySyncHandler(t *testing.T) {
	syncer := &fakeSyncer{}
	h := NewLibrarySyncHandler(syncer)

	payload := []byte(`{"project_id":"p2","directory":"/lib","limit":5}`)
	if err := h.ProcessTask(context.Background(), asynq.NewTask(TaskLibrarySync, payload)); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if syncer.last != (LibrarySyncPayload{ProjectID: "p2", Directory: "/lib", Limit: 5}) {
		t.Fatalf("sync args = %+v", syncer.last)
	}

	syncer.err = apperrors.NewNotFoundError("project", nil)
	if err := h.ProcessTask(context.Background(), asynq.NewTask(TaskLibrarySync, payload)); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("not found err = %v", err)
	}
}

func TestDispatcherWithoutQueue(t *testing.T) {
	d := NewDispatcher(nil, nil)
	if d.HasQueue() {
		t.Fatal("dispatcher without queue reports a queue")
	}
	if err := d.EnqueueLibrarySync("p1"); err == nil {
		t.Fatal("enqueue without queue should fail")
	}
	// 无队列时 Register 不做任何事
	d.Register(&fakeSyncer{})
}
