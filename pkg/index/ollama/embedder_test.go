package ollama

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"embedding":[0.1,0.2,0.3]}`))
	}))
	defer server.Close()

	e := NewEmbedder(server.URL, "nomic-embed-text")
	vec, err := e.Embed(context.Background(), "send an email")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("vector length = %d", len(vec))
	}
}

func TestEmbedSurfacesErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	e := NewEmbedder(server.URL, "missing")
	if _, err := e.Embed(context.Background(), "text"); err == nil ||
		!strings.Contains(err.Error(), "model not found") {
		t.Fatalf("expected upstream detail in error, got %v", err)
	}
}

func TestEmbedRejectsEmptyVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"embedding":[]}`))
	}))
	defer server.Close()

	e := NewEmbedder(server.URL, "nomic-embed-text")
	if _, err := e.Embed(context.Background(), "text"); err == nil {
		t.Fatal("expected error for empty embedding")
	}
}
