package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// newStubProvider serves the embeddings endpoint, returning a fixed vector
// and recording the requested model.
func newStubProvider(t *testing.T, vector []float32, status int) (*httptest.Server, *atomic.Int32, *atomic.Value) {
	t.Helper()

	var calls atomic.Int32
	var lastModel atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding embedding request: %v", err)
		}
		lastModel.Store(req.Model)

		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}

		resp := map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": vector},
			},
			"model": req.Model,
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encoding embedding response: %v", err)
		}
	}))
	t.Cleanup(srv.Close)

	return srv, &calls, &lastModel
}

func TestOpenAIEmbed(t *testing.T) {
	srv, calls, lastModel := newStubProvider(t, []float32{0.1, 0.2, 0.3}, http.StatusOK)

	e := NewOpenAI(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"}, nil)

	vec, err := e.Embed(context.Background(), "what is the refund policy", "text-embedding-3-large")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("len(vec) = %d, want 3", len(vec))
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("provider calls = %d, want 1", got)
	}
	if got := lastModel.Load(); got != "text-embedding-3-large" {
		t.Errorf("model = %v, want text-embedding-3-large", got)
	}
}

func TestOpenAIEmbedProviderError(t *testing.T) {
	srv, _, _ := newStubProvider(t, nil, http.StatusInternalServerError)

	e := NewOpenAI(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"}, nil)

	if _, err := e.Embed(context.Background(), "query", "text-embedding-3-large"); err == nil {
		t.Fatal("expected error from failing provider")
	}
}

func TestOpenAIEmbedEmptyVector(t *testing.T) {
	srv, _, _ := newStubProvider(t, []float32{}, http.StatusOK)

	e := NewOpenAI(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"}, nil)

	if _, err := e.Embed(context.Background(), "query", "text-embedding-3-large"); err == nil {
		t.Fatal("expected error for empty vector response")
	}
}

func TestOpenAIEmbedRespectsContext(t *testing.T) {
	srv, _, _ := newStubProvider(t, []float32{0.1}, http.StatusOK)

	e := NewOpenAI(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Embed(ctx, "query", "text-embedding-3-large"); err == nil {
		t.Fatal("expected error for canceled context")
	}
}
