// Package applog provides the structured-field logging shape spec §7
// requires, written in the plain log.Printf idiom the source codebase uses
// throughout internal/app/pipeline.go (banner sections, counted summaries).
package applog

import (
	"fmt"
	"log"
	"strings"
)

// Fields is a set of key=value pairs appended to a log line. It is a map,
// so the pairs appear in no fixed order.
type Fields map[string]any

// Line emits one structured log line: "component=store kind=... msg".
func Line(component, msg string, fields Fields) {
	log.Printf("component=%s %s%s", component, fieldString(fields), msg)
}

// Error emits a structured error line tagged with an error kind.
func Error(component string, kind string, msg string, err error) {
	log.Printf("component=%s error_kind=%s %s: %v", component, kind, msg, err)
}

// Section prints one of the teacher's "=== Title ===" banner lines, used
// for pipeline-run phase boundaries.
func Section(title string) {
	log.Printf("=== %s ===", title)
}

func fieldString(fields Fields) string {
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, 0, len(fields))
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, " ") + " "
}
