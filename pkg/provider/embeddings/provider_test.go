package embeddings_test

import (
	"errors"
	"testing"

	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/embeddings"
)

func TestPrepare(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"  月亮  ", "月亮"},
		{"", embeddings.Placeholder},
		{" \n\t", embeddings.Placeholder},
	}
	for _, tc := range tests {
		if got := embeddings.Prepare(tc.in); got != tc.want {
			t.Errorf("Prepare(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	in := []string{" a ", ""}
	out := embeddings.PrepareAll(in)
	if out[0] != "a" || out[1] != embeddings.Placeholder || in[0] != " a " {
		t.Errorf("PrepareAll = %q, input %q", out, in)
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		vecs    [][]float32
		n, dims int
		wantErr bool
		dimErr  bool
	}{
		{name: "ok", vecs: [][]float32{{1, 2}, {3, 4}}, n: 2, dims: 2},
		{name: "count mismatch", vecs: [][]float32{{1, 2}}, n: 2, dims: 2, wantErr: true},
		{name: "length mismatch", vecs: [][]float32{{1, 2}, {3}}, n: 2, dims: 2, wantErr: true, dimErr: true},
		{name: "dims unknown", vecs: [][]float32{{1, 2, 3}}, n: 1, dims: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := embeddings.Check(tc.vecs, tc.n, tc.dims)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if errors.Is(err, embeddings.ErrDimensions) != tc.dimErr {
				t.Errorf("errors.Is(ErrDimensions) = %v, want %v", !tc.dimErr, tc.dimErr)
			}
		})
	}
}
