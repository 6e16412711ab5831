package embed

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func embeddingServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAI_Embed(t *testing.T) {
	srv := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer ollama" {
			t.Errorf("unexpected auth header %q", got)
		}

		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		// Answer out of order to exercise index-based reassembly.
		resp := embeddingResponse{Data: []embeddingData{
			{Index: 1, Embedding: []float32{0, 2, 0}},
			{Index: 0, Embedding: []float32{3, 0, 0}},
		}}
		json.NewEncoder(w).Encode(resp)
	})

	e, err := NewOllama("nomic-embed-text", srv.URL)
	if err != nil {
		t.Fatalf("NewOllama: %v", err)
	}

	vectors, err := e.Embed(context.Background(), []string{"thứ hai", "thứ ba"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vectors))
	}

	// Responses are reordered by index and normalized to unit length.
	if math.Abs(float64(vectors[0][0])-1) > 1e-6 {
		t.Errorf("vectors[0] = %v, want unit x axis", vectors[0])
	}
	if math.Abs(float64(vectors[1][1])-1) > 1e-6 {
		t.Errorf("vectors[1] = %v, want unit y axis", vectors[1])
	}
}

func TestOpenAI_EmbedEmpty(t *testing.T) {
	e, _ := NewOllama("all-minilm", "http://localhost:1")
	vectors, err := e.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed(nil) errored: %v", err)
	}
	if vectors != nil {
		t.Errorf("Embed(nil) = %v, want nil", vectors)
	}
}

func TestOpenAI_APIError(t *testing.T) {
	srv := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	})

	e, _ := NewOllama("all-minilm", srv.URL)
	if _, err := e.Embed(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected error on API failure")
	}
}

func TestOpenAI_VectorCountMismatch(t *testing.T) {
	srv := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embeddingResponse{Data: []embeddingData{
			{Index: 0, Embedding: []float32{1}},
		}})
	})

	e, _ := NewOllama("all-minilm", srv.URL)
	if _, err := e.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error when the API drops vectors")
	}
}

func TestOpenAI_ModelDimensions(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"nomic-embed-text", 768},
		{"mxbai-embed-large", 1024},
		{"all-minilm", 384},
		{"unknown-model", 768},
	}

	for _, tt := range tests {
		e, err := NewOllama(tt.model, "")
		if err != nil {
			t.Fatalf("NewOllama(%s): %v", tt.model, err)
		}
		if e.Dimensions() != tt.want {
			t.Errorf("%s: Dimensions = %d, want %d", tt.model, e.Dimensions(), tt.want)
		}
		if e.Name() != tt.model {
			t.Errorf("Name = %q, want %q", e.Name(), tt.model)
		}
	}
}

func TestOpenAI_WithDimension(t *testing.T) {
	e, _ := NewOllama("custom-model", "")
	if got := e.WithDimension(512).Dimensions(); got != 512 {
		t.Errorf("Dimensions = %d, want 512", got)
	}
}

func TestOpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("LOCKSTEP_TEST_NO_KEY", "")
	if _, err := NewOpenAI("LOCKSTEP_TEST_NO_KEY", "text-embedding-3-small"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestMock_Deterministic(t *testing.T) {
	m := NewMock(16)
	a, _ := m.Embed(context.Background(), []string{"chào cờ"})
	b, _ := m.Embed(context.Background(), []string{"chào cờ"})

	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatal("mock vectors must be deterministic per text")
		}
	}
	if m.Calls != 2 {
		t.Errorf("Calls = %d, want 2", m.Calls)
	}
}
