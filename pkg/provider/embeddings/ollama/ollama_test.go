package ollama_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/embeddings"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/embeddings/ollama"
)

type request struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	Truncate  bool     `json:"truncate"`
	KeepAlive string   `json:"keep_alive"`
}

// server answers /api/embed with dims-long vectors whose first value is the
// input position.
func server(t *testing.T, dims int, last *atomic.Pointer[request], calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		last.Store(&req)
		if req.Model == "missing" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"model \"missing\" not found, try pulling it first"}`))
			return
		}
		vecs := make([][]float32, len(req.Input))
		for i := range vecs {
			vecs[i] = make([]float32, dims)
			vecs[i][0] = float32(i)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": vecs})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbedBatch(t *testing.T) {
	t.Parallel()

	var last atomic.Pointer[request]
	var calls atomic.Int32
	srv := server(t, 768, &last, &calls)

	p, err := ollama.New(srv.URL+"/", "", ollama.WithKeepAlive("30m"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vecs, err := p.EmbedBatch(context.Background(), []string{"月球", "", "火星"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 || vecs[2][0] != 2 {
		t.Errorf("vecs = %d entries", len(vecs))
	}
	req := last.Load()
	if req.Model != ollama.DefaultModel || !req.Truncate || req.KeepAlive != "30m" {
		t.Errorf("request = %+v", req)
	}
	if req.Input[1] != embeddings.Placeholder {
		t.Errorf("blank input sent as %q", req.Input[1])
	}
	if p.Dimensions() != 768 || calls.Load() != 1 {
		t.Errorf("Dimensions = %d after %d calls", p.Dimensions(), calls.Load())
	}
}

func TestEmbed_ServerError(t *testing.T) {
	t.Parallel()

	var last atomic.Pointer[request]
	var calls atomic.Int32
	srv := server(t, 4, &last, &calls)

	p, _ := ollama.New(srv.URL, "missing", ollama.WithDimensions(4))
	_, err := p.Embed(context.Background(), "hi")
	if err == nil || !strings.Contains(err.Error(), "try pulling it first") {
		t.Errorf("err = %v", err)
	}
}

func TestEmbed_WrongLength(t *testing.T) {
	t.Parallel()

	var last atomic.Pointer[request]
	var calls atomic.Int32
	srv := server(t, 4, &last, &calls)

	p, _ := ollama.New(srv.URL, "custom-embedder", ollama.WithDimensions(8))
	if _, err := p.Embed(context.Background(), "hi"); !errors.Is(err, embeddings.ErrDimensions) {
		t.Errorf("err = %v, want ErrDimensions", err)
	}
}

func TestDimensions_ProbesOnce(t *testing.T) {
	t.Parallel()

	var last atomic.Pointer[request]
	var calls atomic.Int32
	srv := server(t, 12, &last, &calls)

	p, _ := ollama.New(srv.URL, "custom-embedder")
	for range 3 {
		if got := p.Dimensions(); got != 12 {
			t.Fatalf("Dimensions = %d", got)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("probe calls = %d, want 1", calls.Load())
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	t.Parallel()

	p, _ := ollama.New("http://127.0.0.1:1", "nomic-embed-text")
	vecs, err := p.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v", vecs, err)
	}
}
