package services

import (
	"context"
	"testing"

	apperrors "github.com/Corphon/StoryboardMCP/internal/errors"
	"github.com/Corphon/StoryboardMCP/internal/models"
	"github.com/Corphon/StoryboardMCP/internal/vectorsearch"
)

func TestSearchByTagsScoresPerToken(t *testing.T) {
	r := NewCandidateRetriever(nil, nil)
	results := r.SearchByTags(sampleAssets(), "night street", models.SearchFilters{})

	scores := map[string]float64{}
	for _, res := range results {
		if res.MatchType != models.MatchTag {
			t.Fatalf("match type = %s", res.MatchType)
		}
		scores[res.ShotID] = res.Similarity
	}
	// a1: label 包含两个词，两个标签完全一致
	if !approx(scores["a1"], 3) {
		t.Fatalf("a1 score = %v, want 3", scores["a1"])
	}
	if _, ok := scores["a2"]; ok {
		t.Fatal("office asset should not match")
	}
	if _, ok := scores["a3"]; ok {
		t.Fatal("tag search must not look at descriptions")
	}
}

func TestSearchByTagsFilters(t *testing.T) {
	r := NewCandidateRetriever(nil, nil)
	assets := []models.Asset{
		{ID: "close", Label: "street", Emotion: "紧张", Tags: []string{"特写"}},
		{ID: "wide", Label: "street", Emotion: "紧张", Tags: []string{"全景"}},
		{ID: "untagged", Label: "street", Emotion: "紧张"},
		{ID: "calm", Label: "street", Emotion: "平静"},
	}

	results := r.SearchByTags(assets, "street", models.SearchFilters{
		Emotions:  []string{"紧张"},
		ShotTypes: []string{"全景"},
	})
	got := map[string]bool{}
	for _, res := range results {
		got[res.ShotID] = true
	}
	if !got["wide"] || !got["untagged"] {
		t.Fatalf("expected wide and untagged assets, got %v", got)
	}
	if got["close"] || got["calm"] {
		t.Fatalf("filters not applied, got %v", got)
	}
}

func TestSearchBySemanticWholeQueryBonus(t *testing.T) {
	r := NewCandidateRetriever(nil, nil)
	results := r.SearchBySemantic(sampleAssets(), "rain on a window")
	if len(results) != 1 || results[0].ShotID != "a3" {
		t.Fatalf("results = %+v", results)
	}
	// 四个词全部命中 + 整句命中
	if !approx(results[0].Similarity, 6) {
		t.Fatalf("score = %v, want 6", results[0].Similarity)
	}
}

func TestVectorSearchPreservesOrder(t *testing.T) {
	searcher := &fakeSearcher{hits: []vectorsearch.Hit{
		{ShotID: "x", Similarity: 0.2},
		{ShotID: "y", Similarity: 0.9},
	}}
	r := NewCandidateRetriever(searcher, nil)
	results, err := r.VectorSearch(context.Background(), "q", 5, 0.1, nil)
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(results) != 2 || results[0].ShotID != "x" || results[1].ShotID != "y" {
		t.Fatalf("order changed: %+v", results)
	}
	if results[0].MatchType != models.MatchVector {
		t.Fatalf("match type = %s", results[0].MatchType)
	}
}

func TestVectorFailureLatchesUntilReset(t *testing.T) {
	searcher := &fakeSearcher{err: errVectorDown}
	r := NewCandidateRetriever(searcher, nil)
	ctx := context.Background()

	_, err := r.VectorSearch(ctx, "q", 5, 0.1, nil)
	if !apperrors.IsRetrievalTransportError(err) {
		t.Fatalf("err = %v, want retrieval transport", err)
	}
	if r.Availability().Available() {
		t.Fatal("availability should latch after failure")
	}

	searcher.err = nil
	if _, err := r.VectorSearch(ctx, "q", 5, 0.1, nil); err == nil {
		t.Fatal("latched retriever must not call the service")
	}
	if searcher.callCount() != 1 {
		t.Fatalf("calls = %d, want 1", searcher.callCount())
	}

	r.Availability().Reset()
	if _, err := r.VectorSearch(ctx, "q", 5, 0.1, nil); err != nil {
		t.Fatalf("after reset: %v", err)
	}
	status := r.Availability().Status()
	if !status.Available || status.Failures != 1 {
		t.Fatalf("status = %+v", status)
	}
}

func TestVectorSearchCallerCancelDoesNotLatch(t *testing.T) {
	r := NewCandidateRetriever(&fakeSearcher{err: errVectorDown}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.VectorSearch(ctx, "q", 5, 0.1, nil); err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if !r.Availability().Available() {
		t.Fatal("caller cancellation must not latch availability")
	}
}

func TestVectorSearchWithoutSearcher(t *testing.T) {
	r := NewCandidateRetriever(nil, nil)
	if _, err := r.VectorSearch(context.Background(), "q", 5, 0, nil); !apperrors.IsRetrievalTransportError(err) {
		t.Fatalf("err = %v", err)
	}
}
