package storage

import (
	"testing"
	"time"
)

type doc struct {
	ID    string   `json:"id"`
	Items []string `json:"items"`
}

func TestFileStorageJSONRoundTrip(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}
	defer fs.Close()

	if err := fs.SaveJSONFile("projects/p1", "project.json", doc{ID: "p1", Items: []string{"a"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !fs.FileExists("projects/p1", "project.json") {
		t.Fatal("expected file to exist")
	}

	// 覆盖写入后缓存必须失效
	if err := fs.SaveJSONFile("projects/p1", "project.json", doc{ID: "p1", Items: []string{"a", "b"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	var got doc
	if err := fs.LoadJSONFile("projects/p1", "project.json", &got); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Items) != 2 {
		t.Fatalf("stale read: %+v", got)
	}

	dirs, err := fs.ListDirs("projects")
	if err != nil || len(dirs) != 1 || dirs[0] != "p1" {
		t.Fatalf("ListDirs = %v, %v", dirs, err)
	}

	if err := fs.DeleteDir("projects/p1"); err != nil {
		t.Fatalf("DeleteDir: %v", err)
	}
	if err := fs.LoadJSONFile("projects/p1", "project.json", &got); err == nil {
		t.Fatal("expected load after delete to fail")
	}
}

func TestListDirsMissingIsEmpty(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}
	defer fs.Close()

	dirs, err := fs.ListDirs("nothing")
	if err != nil || len(dirs) != 0 {
		t.Fatalf("ListDirs = %v, %v", dirs, err)
	}
}

func TestResponseCache(t *testing.T) {
	c := NewResponseCache(5, time.Minute)
	key := CacheKey("glm-4-plus", "sys", "prompt")
	if key == CacheKey("glm-4-plus", "sys", "prompt2") {
		t.Fatal("keys must differ by prompt")
	}

	if _, ok := c.Get(key); ok {
		t.Fatal("unexpected hit")
	}
	c.Set(key, "reply")
	if got, ok := c.Get(key); !ok || got != "reply" {
		t.Fatalf("Get = %q, %v", got, ok)
	}

	for i := 0; i < 10; i++ {
		c.Set(CacheKey("m", "", string(rune('a'+i))), "x")
	}
	if c.Len() > 5 {
		t.Fatalf("cache grew past max size: %d", c.Len())
	}
}

func TestResponseCacheExpiry(t *testing.T) {
	c := NewResponseCache(5, time.Millisecond)
	c.Set("k", "v")
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected expired entry to miss")
	}
}
