package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestEmbedder_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "test-model" {
			t.Errorf("unexpected model: %v", req["model"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model":      "test-model",
			"embeddings": [][]float32{{0.1, 0.2, 0.3}},
		})
	}))
	defer server.Close()

	emb, err := NewEmbedder(Config{Host: server.URL, Model: "test-model"})
	if err != nil {
		t.Fatalf("new embedder: %v", err)
	}
	vec, err := emb.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("expected 3 dims, got %d", len(vec))
	}
}

func TestEmbedder_EmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"model": "m", "embeddings": [][]float32{}})
	}))
	defer server.Close()

	emb, _ := NewEmbedder(Config{Host: server.URL, Model: "m"})
	_, err := emb.Embed(context.Background(), "hello")
	if !errors.Is(err, ErrNoEmbedding) {
		t.Errorf("expected ErrNoEmbedding, got %v", err)
	}
}

func TestEmbedder_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "model not loaded"})
	}))
	defer server.Close()

	emb, _ := NewEmbedder(Config{Host: server.URL, Model: "m"})
	if _, err := emb.Embed(context.Background(), "x"); err == nil {
		t.Error("should error on 500")
	}
}

func TestEmbedder_RetriesOverload(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"error": "busy"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"model": "m", "embeddings": [][]float32{{1, 2}}})
	}))
	defer server.Close()

	emb, _ := NewEmbedder(Config{Host: server.URL, Model: "m", MaxRetries: 2})
	vec, err := emb.Embed(context.Background(), "x")
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if len(vec) != 2 || calls.Load() != 2 {
		t.Errorf("unexpected result: %v after %d calls", vec, calls.Load())
	}
}

func TestEmbedder_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "model not found"})
	}))
	defer server.Close()

	emb, _ := NewEmbedder(Config{Host: server.URL, Model: "m", MaxRetries: 3})
	if _, err := emb.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", calls.Load())
	}
}

func TestRetryDelayCapped(t *testing.T) {
	if retryDelay(0) != 200*time.Millisecond {
		t.Errorf("unexpected base delay %v", retryDelay(0))
	}
	if retryDelay(10) != 5*time.Second {
		t.Errorf("expected cap at 5s, got %v", retryDelay(10))
	}
}

func TestEmbedder_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	emb, _ := NewEmbedder(Config{Host: url, Model: "m"})
	if _, err := emb.Embed(context.Background(), "x"); err == nil {
		t.Error("should error when ollama is down")
	}
	if emb.Available(context.Background()) {
		t.Error("should not be available")
	}
}

func TestEmbedder_Available(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/version" {
			json.NewEncoder(w).Encode(map[string]string{"version": "0.13.5"})
		}
	}))
	defer server.Close()

	emb, _ := NewEmbedder(Config{Host: server.URL})
	if !emb.Available(context.Background()) {
		t.Error("should be available")
	}
}

func TestDefaults(t *testing.T) {
	emb, err := NewEmbedder(Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if emb.Name() != DefaultModel {
		t.Errorf("expected default model, got %s", emb.Name())
	}
	cfg := DefaultConfig()
	if cfg.Host != "http://localhost:11434" {
		t.Errorf("unexpected default host: %s", cfg.Host)
	}
}
