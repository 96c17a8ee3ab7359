package policy

import (
	"strings"
	"testing"
)

func TestBuildSystemPromptSectionOrder(t *testing.T) {
	t.Parallel()
	prompt := BuildSystemPrompt(RoleReasoning, "Hindi", UserContext{
		Name:        "Harsh",
		Preferences: map[string]string{"tone": "formal"},
	})

	sections := []string{
		"You are Haral",
		"REGULATIONS AND CONDUCT:",
		"[USER PROFILE DATA]",
		"[LANGUAGE PROTOCOL]:",
		"MODE: REASONING.",
	}
	last := -1
	for _, s := range sections {
		idx := strings.Index(prompt, s)
		if idx == -1 {
			t.Fatalf("prompt missing section %q", s)
		}
		if idx <= last {
			t.Errorf("section %q out of order", s)
		}
		last = idx
	}
}

func TestBuildSystemPromptDeterministic(t *testing.T) {
	t.Parallel()
	userCtx := UserContext{
		Name: "Harsh",
		Preferences: map[string]string{
			"zeta":  "one",
			"alpha": "two",
			"mid":   "three",
		},
	}

	first := BuildSystemPrompt(RoleGeneral, "English", userCtx)
	for range 10 {
		if got := BuildSystemPrompt(RoleGeneral, "English", userCtx); got != first {
			t.Fatal("prompt differs across calls with identical input")
		}
	}
	// Keys appear in sorted order.
	if !strings.Contains(first, "Alpha: two, Mid: three, Zeta: one") {
		t.Errorf("preferences not sorted: %q", first)
	}
}

func TestLanguageDirectiveMirroring(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		language string
		contains []string
		excludes []string
	}{
		{
			name:     "default english",
			language: "",
			contains: []string{"Default: English.", "MIRRORING"},
			excludes: []string{"CRITICAL OVERRIDE"},
		},
		{
			name:     "explicit english",
			language: "English",
			contains: []string{"Default: English."},
			excludes: []string{"CRITICAL OVERRIDE"},
		},
		{
			name:     "preferred hindi",
			language: "Hindi",
			contains: []string{
				"User Preference: HINDI.",
				"If the user wrote in English, you MUST reply in ENGLISH.",
				"NEVER translate an English input into Hindi.",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := languageDirective(tt.language)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("directive missing %q:\n%s", want, got)
				}
			}
			for _, bad := range tt.excludes {
				if strings.Contains(got, bad) {
					t.Errorf("directive unexpectedly contains %q", bad)
				}
			}
		})
	}
}

func TestUserContextBlockEmpty(t *testing.T) {
	t.Parallel()
	if got := userContextBlock(UserContext{}); got != "" {
		t.Errorf("empty context produced block %q", got)
	}

	prompt := BuildSystemPrompt(RoleGeneral, "", UserContext{})
	if strings.Contains(prompt, "[USER PROFILE DATA]") {
		t.Error("profile block present for zero-value user context")
	}
}

func TestUserContextBlockNameDefaults(t *testing.T) {
	t.Parallel()
	got := userContextBlock(UserContext{Preferences: map[string]string{"tone": "casual"}})
	if !strings.Contains(got, "- Name: User") {
		t.Errorf("missing default name:\n%s", got)
	}
	if !strings.Contains(got, "Tone: casual") {
		t.Errorf("missing capitalized preference:\n%s", got)
	}
}

func TestModeTrailers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		role Role
		want string
	}{
		{RoleGeneral, ""},
		{RoleReasoning, "MODE: REASONING"},
		{RoleSearch, "MODE: WEB SEARCH"},
		{RoleVision, "MODE: VISION"},
		{RoleCoder, "MODE: CODER"},
		{Role("unknown"), ""},
	}
	for _, tt := range tests {
		got := modeTrailer(tt.role)
		if tt.want == "" {
			if got != "" {
				t.Errorf("modeTrailer(%q) = %q, want empty", tt.role, got)
			}
			continue
		}
		if !strings.Contains(got, tt.want) {
			t.Errorf("modeTrailer(%q) = %q, want containing %q", tt.role, got, tt.want)
		}
	}
}

func TestAnswerFormatRulesDirectives(t *testing.T) {
	t.Parallel()
	for _, marker := range []string{"THOUGHT:", "[[YOUTUBE:", "[[GENERATE_IMAGE:"} {
		if !strings.Contains(AnswerFormatRules, marker) {
			t.Errorf("format rules missing %q", marker)
		}
	}
}
