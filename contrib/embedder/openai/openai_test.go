package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sweetpotato0/bookqa/vector"
)

func embeddingServer(t *testing.T, data string) (*httptest.Server, *map[string]any) {
	t.Helper()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small","data":` + data +
			`,"usage":{"prompt_tokens":2,"total_tokens":2}}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestEmbedBatchKeepsInputOrder(t *testing.T) {
	srv, req := embeddingServer(t, `[
		{"object":"embedding","index":1,"embedding":[0.3,0.4]},
		{"object":"embedding","index":0,"embedding":[0.1,0.2]}
	]`)
	var e vector.Embedder = New("key", srv.URL, "", 3)

	vecs, err := e.EmbedBatch(context.Background(), []string{"river", "bridge"})
	if err != nil {
		t.Fatalf("EmbedBatch error: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != float32(0.1) || vecs[1][0] != float32(0.3) {
		t.Fatalf("expected vectors in input order, got %v", vecs)
	}
	if len(vecs[0]) != 3 || vecs[0][2] != 0 {
		t.Fatalf("expected vectors padded to the configured dimension, got %v", vecs[0])
	}
	if (*req)["model"] != "text-embedding-3-small" || (*req)["dimensions"] != float64(3) {
		t.Fatalf("unexpected request %v", *req)
	}
	if e.Dimension() != 3 {
		t.Fatalf("expected dimension 3, got %d", e.Dimension())
	}
}

func TestEmbedBatchRejectsShortResponse(t *testing.T) {
	srv, _ := embeddingServer(t, `[{"object":"embedding","index":0,"embedding":[0.1]}]`)
	e := New("key", srv.URL, "", 0)

	if _, err := e.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatalf("expected error when fewer embeddings are returned")
	}
	if vecs, err := e.EmbedBatch(context.Background(), nil); err != nil || vecs != nil {
		t.Fatalf("expected empty input to skip the request, got %v %v", vecs, err)
	}
}
