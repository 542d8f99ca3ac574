package vectorsearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/Corphon/StoryboardMCP/internal/errors"
)

func TestSearchDecodesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req SearchRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.TopK != 5 || req.Threshold != 0.1 {
			t.Errorf("unexpected request %+v", req)
		}
		w.Write([]byte(`{"status":"success","query":"q","results":[
			{"shotId":"s2","filePath":"/v/2.mp4","label":"b","similarity":0.9,"duration":4},
			{"shotId":"s1","filePath":"/v/1.mp4","label":"a","similarity":0.7,"duration":2}],
			"total":2,"searched":10}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 100)
	resp, err := c.Search(context.Background(), SearchRequest{Query: "q", TopK: 5, Threshold: 0.1})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) != 2 || resp.Results[0].ShotID != "s2" {
		t.Fatalf("order not preserved: %+v", resp.Results)
	}
}

func TestSearchTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	c := NewClient(srv.URL, time.Second, 100)
	_, err := c.Search(context.Background(), SearchRequest{Query: "q"})
	if !apperrors.IsRetrievalTransportError(err) {
		t.Fatalf("want transport error, got %v", err)
	}
	srv.Close()

	_, err = c.Search(context.Background(), SearchRequest{Query: "q"})
	if !apperrors.IsRetrievalTransportError(err) {
		t.Fatalf("closed server: want transport error, got %v", err)
	}
}

func TestSearchNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second, 100).Search(context.Background(), SearchRequest{Query: "q"})
	if !apperrors.IsRetrievalTransportError(err) {
		t.Fatalf("want transport error, got %v", err)
	}
}

func TestList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"files":[{"filePath":"/v/a.mp4","shotId":"a","label":"a","duration":3.5,"status":"ready"}],"summary":{"totalFiles":1,"directory":"/v"}}`))
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL, time.Second, 100).List(context.Background(), ListRequest{Directory: "/v", Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if resp.Summary.TotalFiles != 1 || resp.Files[0].Duration != 3.5 {
		t.Fatalf("unexpected list response %+v", resp)
	}
}
