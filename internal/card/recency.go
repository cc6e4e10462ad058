package card

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// RecencyIndicator returns a human-readable age tag for a field, used to
// signal freshness to the model in assembled context. Empty string if the
// field has no metadata.
func (p *Payload) RecencyIndicator(field string, now int64) string {
	m, ok := p.Meta[field]
	if !ok || m.LastUpdated == 0 {
		return ""
	}

	age := time.Duration(now-m.LastUpdated) * time.Millisecond
	switch {
	case age < time.Hour:
		return "[new]"
	case age < 24*time.Hour:
		return "[updated today]"
	case age < 7*24*time.Hour:
		return "[updated this week]"
	case age < 14*24*time.Hour:
		return "[updated 2 weeks ago]"
	case age < 30*24*time.Hour:
		return "[updated this month]"
	default:
		return "[established]"
	}
}

// Render formats the payload as prompt-ready lines, one per field, annotated
// with recency indicators. Fields are sorted for deterministic output.
func (p *Payload) Render(now int64) string {
	names := make([]string, 0, len(p.Fields))
	for name := range p.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		v := p.Fields[name]
		text := v.String()
		if strings.TrimSpace(text) == "" {
			continue
		}
		if tag := p.RecencyIndicator(name, now); tag != "" {
			b.WriteString(fmt.Sprintf("- %s: %s %s\n", name, text, tag))
		} else {
			b.WriteString(fmt.Sprintf("- %s: %s\n", name, text))
		}
	}
	return b.String()
}
