package tools

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Block headers recognised by the tool templates.
const (
	ResultHeader  = "【工具執行結果】"
	FailureHeader = "【工具執行失敗提示】"
)

// FormatOutcome renders o as the block appended to the message list before
// the reply prompt is built.
func FormatOutcome(o Outcome) string {
	var b strings.Builder
	if o.Status.Failed() {
		b.WriteString(FailureHeader)
		fmt.Fprintf(&b, "\n工具：%s\n狀態：%s\n%s", o.Tool, o.Status, o.Message)
		return b.String()
	}
	b.WriteString(ResultHeader)
	fmt.Fprintf(&b, "\n工具：%s\n", o.Tool)
	if len(o.Args) > 0 {
		b.WriteString("查詢：")
		b.WriteString(formatArgs(o.Args))
		b.WriteByte('\n')
	}
	b.WriteString(o.Result)
	return b.String()
}

// ClarifyMissing returns the message that asks the user for the missing
// required parameters of t.
func ClarifyMissing(t Tool, missing []string) string {
	descs := make([]string, 0, len(missing))
	for _, name := range missing {
		desc := name
		for _, p := range t.Params {
			if p.Name == name && p.Description != "" {
				desc = p.Description
				break
			}
		}
		descs = append(descs, desc)
	}
	return fmt.Sprintf("要使用「%s」還缺少資訊，請用戶補充：%s。", t.Name, strings.Join(descs, "、"))
}

func formatArgs(args map[string]string) string {
	keys := slices.Sorted(maps.Keys(args))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + args[k]
	}
	return strings.Join(parts, "，")
}
