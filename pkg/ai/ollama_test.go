package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
)

func TestChatSendsExplicitImagesList(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer k123" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(chatResponse{Message: ChatMessage{Role: "assistant", Content: "hello"}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k123", 5*time.Second)
	reply, err := client.Chat(context.Background(), "llama3.2-vision", []ChatMessage{
		{Role: "system", Content: "You are a TA.", Images: []string{}},
		{Role: "user", Content: "hi", Images: []string{}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply.Content != "hello" {
		t.Fatalf("reply content = %q, want hello", reply.Content)
	}
	if got.Stream {
		t.Fatalf("expected stream=false")
	}

	// The wire encoding must carry "images":[] rather than omit the field.
	raw, err := json.Marshal(ChatMessage{Role: "user", Content: "hi", Images: []string{}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if want := `{"role":"user","content":"hi","images":[]}`; string(raw) != want {
		t.Fatalf("wire message = %s, want %s", raw, want)
	}
}

func TestChatWireProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid message content"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", 5*time.Second)
	_, err := client.Chat(context.Background(), "m", []ChatMessage{{Role: "user", Content: "x", Images: []string{}}})
	if !errors.Is(err, ErrWireProtocol) {
		t.Fatalf("expected ErrWireProtocol, got %v", err)
	}
}

func TestListModelsSortedDeduped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %q, want /api/tags", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"models":[{"name":"qwen2.5"},{"model":"llama3.2"},{"name":"qwen2.5"}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", 5*time.Second)
	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("list models: %v", err)
	}
	if want := []string{"llama3.2", "qwen2.5"}; !reflect.DeepEqual(models, want) {
		t.Fatalf("models = %v, want %v", models, want)
	}
}

func TestNewClientHostNormalization(t *testing.T) {
	c := NewClient("ollama.example.com/", "", 0)
	if c.baseURL != "https://ollama.example.com" {
		t.Fatalf("baseURL = %q", c.baseURL)
	}
	c = NewClient("", "", 0)
	if c.baseURL != defaultBaseURL {
		t.Fatalf("baseURL = %q, want default", c.baseURL)
	}
}
