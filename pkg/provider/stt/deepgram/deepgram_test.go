package deepgram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/stt"
)

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	var gotCT, gotAuth, gotLang string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCT = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		gotLang = r.URL.Query().Get("language")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{
			"metadata": {"duration": 2.5},
			"results": {"channels": [{"alternatives": [{"transcript": " 今天月亮好圓 ", "confidence": 0.93}]}]}
		}`))
	}))
	defer srv.Close()

	p, err := New("dg-key", WithBaseURL(srv.URL), WithLanguage("zh-TW"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tr, err := p.Transcribe(context.Background(), []byte("webm"), "audio/webm;codecs=opus")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if tr.Text != "今天月亮好圓" || tr.Confidence != 0.93 {
		t.Errorf("transcript = %+v", tr)
	}
	if tr.Duration != 2500*time.Millisecond {
		t.Errorf("Duration = %v, want 2.5s", tr.Duration)
	}
	if gotCT != "audio/webm" || gotAuth != "Token dg-key" || gotLang != "zh-TW" {
		t.Errorf("headers: ct=%q auth=%q lang=%q", gotCT, gotAuth, gotLang)
	}
	if string(gotBody) != "webm" {
		t.Errorf("body = %q", gotBody)
	}
}

func TestTranscribe_NoSpeech(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":{"channels":[]}}`))
	}))
	defer srv.Close()

	p, _ := New("k", WithBaseURL(srv.URL))
	tr, err := p.Transcribe(context.Background(), []byte("x"), "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "" {
		t.Errorf("Text = %q, want empty", tr.Text)
	}
}

func TestTranscribe_Errors(t *testing.T) {
	t.Parallel()

	p, _ := New("k", WithBaseURL("http://127.0.0.1:1"))
	if _, err := p.Transcribe(context.Background(), nil, ""); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Errorf("err = %v, want ErrEmptyAudio", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad creds", http.StatusUnauthorized)
	}))
	defer srv.Close()
	p, _ = New("k", WithBaseURL(srv.URL))
	if _, err := p.Transcribe(context.Background(), []byte("x"), ""); err == nil {
		t.Error("expected error on 401")
	}
}
