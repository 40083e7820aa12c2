package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/eggyy1224/space-live-project-sub000/internal/observe"
)

// Status is the outcome class of a tool step.
type Status string

const (
	StatusSuccess       Status = "success"
	StatusMissingParams Status = "failed_missing_params"
	StatusException     Status = "failed_exception"
	StatusUnknownTool   Status = "failed_unknown_tool"
)

// Failed reports whether s is anything other than success.
func (s Status) Failed() bool { return s != StatusSuccess }

// maxResultRunes bounds the tool text passed into the reply prompt.
const maxResultRunes = 1500

// Outcome records what happened when a tool step ran.
type Outcome struct {
	Tool   string
	Args   map[string]string
	Status Status

	// Result is the tool output on success.
	Result string

	// Message is a user-safe explanation on failure.
	Message string

	// Err is the underlying failure, for logs only.
	Err error
}

// MissingOutcome builds the outcome for a tool whose required parameters
// could not be extracted.
func MissingOutcome(t Tool, missing []string) Outcome {
	return Outcome{
		Tool:    t.Name,
		Status:  StatusMissingParams,
		Message: ClarifyMissing(t, missing),
		Err:     fmt.Errorf("%w: %s", ErrMissingParams, strings.Join(missing, ", ")),
	}
}

// Execute runs the named tool with args and never fails: every problem is
// captured in the returned [Outcome]. A panicking tool is reported as
// [StatusException].
func (r *Registry) Execute(ctx context.Context, name string, args map[string]string) (out Outcome) {
	ctx, span := observe.StartSpan(ctx, "tool."+name)
	out = Outcome{Tool: name, Args: args}
	defer func() {
		if p := recover(); p != nil {
			out.Status = StatusException
			out.Err = fmt.Errorf("tools: %s panicked: %v", name, p)
			out.Message = safeMessage(name)
			out.Result = ""
		}
		observe.EndSpan(span, out.Err)
		r.metrics.RecordToolCall(ctx, name, string(out.Status))
		if out.Status.Failed() {
			observe.Logger(ctx).Warn("tool failed", "tool", name, "status", out.Status, "err", out.Err)
		} else {
			observe.Logger(ctx).Debug("tool succeeded", "tool", name, "result_len", len(out.Result))
		}
	}()

	t, ok := r.Get(name)
	if !ok {
		out.Status = StatusUnknownTool
		out.Err = fmt.Errorf("%w: %q", ErrUnknownTool, name)
		out.Message = safeMessage(name)
		return out
	}
	var missing []string
	for _, p := range t.Required() {
		if strings.TrimSpace(args[p]) == "" {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		mo := MissingOutcome(t, missing)
		mo.Args = args
		return mo
	}

	res, err := t.Func(ctx, args)
	if err != nil {
		out.Status = StatusException
		out.Err = err
		out.Message = safeMessage(name)
		if errors.Is(err, context.DeadlineExceeded) {
			out.Message = fmt.Sprintf("工具「%s」回應逾時，暫時查不到資料。", name)
		}
		return out
	}
	out.Status = StatusSuccess
	out.Result = truncateRunes(strings.TrimSpace(res), maxResultRunes)
	return out
}

func safeMessage(name string) string {
	return fmt.Sprintf("工具「%s」目前無法取得資料，請稍後再試。", name)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
