package card

import (
	"strings"
	"testing"
	"time"
)

func TestRecencyIndicator(t *testing.T) {
	now := time.Now().UnixMilli()
	p := New(map[string]Value{"mood": Str("hopeful")}, SourceModel, now)

	cases := []struct {
		age  time.Duration
		want string
	}{
		{30 * time.Minute, "[new]"},
		{5 * time.Hour, "[updated today]"},
		{3 * 24 * time.Hour, "[updated this week]"},
		{10 * 24 * time.Hour, "[updated 2 weeks ago]"},
		{20 * 24 * time.Hour, "[updated this month]"},
		{90 * 24 * time.Hour, "[established]"},
	}
	for _, tc := range cases {
		got := p.RecencyIndicator("mood", now+tc.age.Milliseconds())
		if got != tc.want {
			t.Errorf("age %v: got %q, want %q", tc.age, got, tc.want)
		}
	}

	if p.RecencyIndicator("missing", now) != "" {
		t.Error("unknown field should have no indicator")
	}
}

func TestRenderDeterministic(t *testing.T) {
	now := time.Now().UnixMilli()
	p := New(map[string]Value{
		"traits":      Strs("kind", "stubborn"),
		"personality": Str("warm but guarded"),
		"empty":       Str("   "),
	}, SourceModel, now)

	out := p.Render(now)
	if strings.Contains(out, "empty") {
		t.Error("blank fields should be omitted")
	}
	// Sorted field order: personality before traits
	pi := strings.Index(out, "personality")
	ti := strings.Index(out, "traits")
	if pi < 0 || ti < 0 || pi > ti {
		t.Errorf("fields out of order:\n%s", out)
	}
	if !strings.Contains(out, "kind, stubborn") {
		t.Errorf("list rendering missing:\n%s", out)
	}
	if !strings.Contains(out, "[new]") {
		t.Errorf("recency tag missing:\n%s", out)
	}
}
