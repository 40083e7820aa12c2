package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider as the global one for
// the duration of the test. Tests using it must not run in parallel.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs swaps the default logger for one writing JSON into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestSessionID(t *testing.T) {
	t.Parallel()

	if got := SessionID(context.Background()); got != "" {
		t.Errorf("SessionID(background) = %q", got)
	}
	ctx := WithSessionID(context.Background(), "s-42")
	if got := SessionID(ctx); got != "s-42" {
		t.Errorf("SessionID = %q", got)
	}
}

func TestStartSpan_TagsSession(t *testing.T) {
	exp := useTestTracer(t)

	ctx := WithSessionID(context.Background(), "s-7")
	ctx, span := StartSpan(ctx, "dialogue.turn")
	if len(CorrelationID(ctx)) != 32 {
		t.Errorf("CorrelationID = %q", CorrelationID(ctx))
	}
	EndSpan(span, nil)

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "dialogue.turn" {
		t.Fatalf("spans = %v", spans)
	}
	var found bool
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "session.id" && a.Value.AsString() == "s-7" {
			found = true
		}
	}
	if !found {
		t.Errorf("session.id missing from %v", spans[0].Attributes)
	}
}

func TestEndSpan_RecordsError(t *testing.T) {
	exp := useTestTracer(t)

	_, span := StartSpan(context.Background(), "tools.execute")
	EndSpan(span, errors.New("upstream 503"))

	got := exp.GetSpans()[0]
	if got.Status.Code != codes.Error || got.Status.Description != "upstream 503" {
		t.Errorf("status = %+v", got.Status)
	}
	if len(got.Events) == 0 {
		t.Error("error event not recorded")
	}
}

func TestLogger(t *testing.T) {
	useTestTracer(t)
	buf := captureLogs(t)

	tests := []struct {
		name string
		ctx  func() context.Context
		want []string
		not  []string
	}{
		{
			name: "bare",
			ctx:  context.Background,
			not:  []string{"session_id", "trace_id"},
		},
		{
			name: "session only",
			ctx:  func() context.Context { return WithSessionID(context.Background(), "s-1") },
			want: []string{`"session_id":"s-1"`},
			not:  []string{"trace_id"},
		},
		{
			name: "session and span",
			ctx: func() context.Context {
				ctx, span := StartSpan(WithSessionID(context.Background(), "s-2"), "x")
				t.Cleanup(func() { span.End() })
				return ctx
			},
			want: []string{`"session_id":"s-2"`, `"trace_id":`, `"span_id":`},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf.Reset()
			Logger(tc.ctx()).Info("turn complete")
			line := buf.String()
			for _, w := range tc.want {
				if !strings.Contains(line, w) {
					t.Errorf("log %q missing %s", line, w)
				}
			}
			for _, n := range tc.not {
				if strings.Contains(line, n) {
					t.Errorf("log %q unexpectedly has %s", line, n)
				}
			}
		})
	}
}
