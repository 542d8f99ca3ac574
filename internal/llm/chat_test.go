package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestChatEndpointComplete(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("missing auth header")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"model":"m1","choices":[{"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"total_tokens":7}}`))
	}))
	defer srv.Close()

	ep := &ChatEndpoint{Name: "test", URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer k"}}
	resp, err := ep.Complete(context.Background(), "m1", CompletionRequest{
		Prompt:       "hi",
		SystemPrompt: "sys",
		TopP:         0.8,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "hello" || resp.TokensUsed != 7 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	msgs := got["messages"].([]interface{})
	if len(msgs) != 2 || msgs[0].(map[string]interface{})["role"] != "system" {
		t.Fatalf("system prompt should lead messages: %v", msgs)
	}
}

func TestChatEndpointNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ep := &ChatEndpoint{Name: "test", URL: srv.URL}
	_, err := ep.Complete(context.Background(), "m", CompletionRequest{Prompt: "x"})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestGetProviderUnknown(t *testing.T) {
	if _, err := GetProvider("does-not-exist", nil); err != ErrUnknownProvider {
		t.Fatalf("err = %v", err)
	}
}
