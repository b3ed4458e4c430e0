package resolve

import (
	"strings"
	"testing"

	"github.com/blackroad/statesync/internal/syncer"
)

func TestParseSuggestion(t *testing.T) {
	tests := []struct {
		name string
		text string
		want syncer.Policy
	}{
		{
			"bare json",
			`{"resolution": "prefer_remote", "rationale": "remote has newer totals"}`,
			syncer.PolicyPreferRemote,
		},
		{
			"fenced json",
			"Here is my recommendation:\n```json\n{\"resolution\": \"prefer_local\", \"rationale\": \"local edit supersedes\"}\n```\n",
			syncer.PolicyPreferLocal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := parseSuggestion(tt.text)
			if err != nil {
				t.Fatalf("parseSuggestion: %v", err)
			}
			if s.Resolution != tt.want {
				t.Errorf("Resolution = %s, want %s", s.Resolution, tt.want)
			}
			if s.Rationale == "" {
				t.Error("Rationale is empty")
			}
		})
	}
}

func TestParseSuggestionRejectsBadInput(t *testing.T) {
	for _, text := range []string{
		"",
		"no json here",
		`{"resolution": "manual", "rationale": "punt"}`,
		`{"resolution": "delete_everything"}`,
	} {
		if _, err := parseSuggestion(text); err == nil {
			t.Errorf("parseSuggestion(%q) accepted invalid input", text)
		}
	}
}

func TestBuildPrompt(t *testing.T) {
	report := &syncer.ConflictReport{
		Key:     "state/app",
		Backend: "crm",
		Base:    map[string]any{"count": 1},
		Local:   map[string]any{"count": 2},
		Remote:  map[string]any{"count": 3},
		Divergent: []syncer.DivergentField{
			{Name: "count", Base: 1, Local: 2, Remote: 3},
		},
	}
	prompt, err := buildPrompt(report)
	if err != nil {
		t.Fatalf("buildPrompt: %v", err)
	}
	for _, want := range []string{"state/app", "crm", "count", "Base (last agreed)", "Remote (backend)"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
