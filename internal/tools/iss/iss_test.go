package iss_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/eggyy1224/space-live-project-sub000/internal/tools/iss"
)

func newServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/iss-now.json", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"message":"success","timestamp":1760400000,"iss_position":{"latitude":"-12.3456","longitude":"101.5"}}`))
	})
	mux.HandleFunc("/astros.json", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"number":3,"people":[{"name":"A","craft":"ISS"},{"name":"B","craft":"Tiangong"},{"name":"C","craft":"ISS"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestInfo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query    string
		want     []string
		notWant  string
		wantHits int32
	}{
		{iss.QueryPosition, []string{"南緯 12.35 度", "東經 101.50 度"}, "太空中", 1},
		{iss.QueryAstronauts, []string{"共有 3 人", "ISS：A、C", "Tiangong：B"}, "緯", 1},
		{"", []string{"南緯", "共有 3 人"}, "", 2},
	}
	for _, tt := range tests {
		t.Run("query="+tt.query, func(t *testing.T) {
			t.Parallel()
			srv, hits := newServer(t)
			c := iss.New(iss.WithBaseURL(srv.URL), iss.WithHTTPClient(srv.Client()))
			got, err := c.Info(context.Background(), tt.query)
			if err != nil {
				t.Fatalf("Info: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("output missing %q:\n%s", w, got)
				}
			}
			if tt.notWant != "" && strings.Contains(got, tt.notWant) {
				t.Errorf("output should not contain %q:\n%s", tt.notWant, got)
			}
			if n := hits.Load(); n != tt.wantHits {
				t.Errorf("hits = %d, want %d", n, tt.wantHits)
			}
		})
	}
}

func TestInfo_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	if _, err := iss.New(iss.WithBaseURL(srv.URL)).Info(context.Background(), iss.QueryAll); err == nil {
		t.Fatal("expected error")
	}
}
