package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIProvider_ImplementsProvider(t *testing.T) {
	var _ Provider = (*OpenAIProvider)(nil)
}

func TestOpenAIProvider_Embed(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}

		var req openAIEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "text-embedding-3-small" {
			t.Errorf("unexpected model %q", req.Model)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 0, "embedding": []float64{0.1, 0.2, 0.3}},
			},
			"model": req.Model,
			"usage": map[string]int{"prompt_tokens": 4, "total_tokens": 4},
		})
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		Model:      "text-embedding-3-small",
		Dimensions: 3,
	})

	vec, err := p.EmbedQuery(context.Background(), "hello")
	if err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Fatalf("unexpected embedding %v", vec)
	}
}

func TestOpenAIProvider_EmbedAPIError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "invalid api key"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "bad", BaseURL: server.URL})
	if _, err := p.EmbedQuery(context.Background(), "hello"); err == nil {
		t.Fatal("expected error on 401 response")
	}
}

func TestOpenAIProvider_Defaults(t *testing.T) {
	t.Parallel()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k"})
	if p.Dimensions() != 3072 {
		t.Fatalf("expected default 3072 dims, got %d", p.Dimensions())
	}
}
