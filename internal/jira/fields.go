package jira

import (
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02",
}

// text reads a field that is either a plain string or an object carrying a
// display value (priority, status, user, option).
func text(fields map[string]any, name string) string {
	switch v := fields[name].(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		for _, key := range []string{"name", "value", "displayName", "emailAddress"} {
			if s, ok := v[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// textOr is text with a fallback for absent values.
func textOr(fields map[string]any, name, fallback string) string {
	if s := text(fields, name); s != "" {
		return s
	}
	return fallback
}

// description flattens an Atlassian document into its text content.
func description(fields map[string]any) string {
	switch v := fields["description"].(type) {
	case string:
		return v
	case map[string]any:
		var b strings.Builder
		flattenDoc(v, &b)
		return strings.TrimSpace(b.String())
	}
	return ""
}

func flattenDoc(node map[string]any, b *strings.Builder) {
	if s, ok := node["text"].(string); ok {
		b.WriteString(s)
	}
	children, _ := node["content"].([]any)
	for _, child := range children {
		if m, ok := child.(map[string]any); ok {
			flattenDoc(m, b)
		}
	}
	switch node["type"] {
	case "paragraph", "heading", "listItem", "codeBlock", "hardBreak":
		b.WriteByte('\n')
	}
}

func timeField(fields map[string]any, name string) (time.Time, bool) {
	s, ok := fields[name].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func optionalTime(fields map[string]any, name string) *time.Time {
	if t, ok := timeField(fields, name); ok {
		return &t
	}
	return nil
}

func number(fields map[string]any, name string) float64 {
	switch v := fields[name].(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err == nil {
			return f
		}
	}
	return 0
}

func stringList(fields map[string]any, name string) []string {
	items, _ := fields[name].([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
