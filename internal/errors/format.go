package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// FormatForCLI renders an error for terminal output: message first,
// then suggestion and code, so users read the fix before the taxonomy.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}

	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.Message)
	if e.Suggestion != "" {
		b.WriteString("\n  hint: ")
		b.WriteString(e.Suggestion)
	}
	if len(e.Details) > 0 {
		for _, k := range sortedKeys(e.Details) {
			fmt.Fprintf(&b, "\n  %s: %s", k, e.Details[k])
		}
	}
	fmt.Fprintf(&b, "\n  code: %s", e.Code)
	return b.String()
}

// LogAttrs converts an error into structured slog attributes.
func LogAttrs(err error) []slog.Attr {
	if err == nil {
		return nil
	}

	var e *Error
	if !errors.As(err, &e) {
		return []slog.Attr{slog.String("error", err.Error())}
	}

	attrs := []slog.Attr{
		slog.String("error", e.Message),
		slog.String("error_code", e.Code),
		slog.String("error_kind", string(e.Kind)),
	}
	if e.Cause != nil {
		attrs = append(attrs, slog.String("cause", e.Cause.Error()))
	}
	return attrs
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
