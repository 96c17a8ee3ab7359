package intent

import "testing"

func TestParseResult(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		text       string
		wantOK     bool
		wantIntent string
	}{
		{
			name:       "plain json",
			text:       `{"intent":"search","dynamic_status":"Scanning...","input_language":"English"}`,
			wantOK:     true,
			wantIntent: "search",
		},
		{
			name:       "fenced json",
			text:       "```json\n{\"intent\":\"reasoning\"}\n```",
			wantOK:     true,
			wantIntent: "reasoning",
		},
		{
			name:       "json with surrounding prose",
			text:       `Sure! Here you go: {"intent":"general"} Hope this helps.`,
			wantOK:     true,
			wantIntent: "general",
		},
		{
			name:   "no braces",
			text:   "search",
			wantOK: false,
		},
		{
			name:   "malformed json",
			text:   `{"intent": search}`,
			wantOK: false,
		},
		{
			name:   "reversed braces",
			text:   `} nothing {`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			raw, ok := parseResult(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("parseResult ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && raw.Intent != tt.wantIntent {
				t.Errorf("intent = %q, want %q", raw.Intent, tt.wantIntent)
			}
		})
	}
}

func TestNormalizeLabelMatching(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		label string
		want  Intent
	}{
		{"exact search", "search", IntentSearch},
		{"decorated search", "'search'", IntentSearch},
		{"upper case", "SEARCH", IntentSearch},
		{"exact reasoning", "reasoning", IntentReasoning},
		{"exact general", "general", IntentGeneral},
		{"unknown label", "banana", IntentGeneral},
		{"empty label", "", IntentGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := normalize(rawResult{Intent: tt.label})
			if got.Intent != tt.want {
				t.Errorf("normalize(%q) = %v, want %v", tt.label, got.Intent, tt.want)
			}
		})
	}
}

func TestNormalizePreferenceDemotion(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		key   string
		value string
		want  Intent
	}{
		{"real change", "language", "Hindi", IntentChangePreference},
		{"empty value", "language", "", IntentGeneral},
		{"none value", "language", "none", IntentGeneral},
		{"None value", "language", "None", IntentGeneral},
		{"null value", "language", "NULL", IntentGeneral},
		{"missing key", "", "Hindi", IntentGeneral},
		{"whitespace value", "language", "   ", IntentGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := normalize(rawResult{
				Intent:          "change_preference",
				PreferenceKey:   tt.key,
				PreferenceValue: tt.value,
			})
			if got.Intent != tt.want {
				t.Fatalf("intent = %v, want %v", got.Intent, tt.want)
			}
			if tt.want == IntentChangePreference {
				if got.Preference == nil {
					t.Fatal("preference patch missing")
				}
				if got.Preference.Key != tt.key || got.Preference.Value != tt.value {
					t.Errorf("patch = %+v", got.Preference)
				}
			} else if got.Preference != nil {
				t.Errorf("demoted classification kept patch %+v", got.Preference)
			}
		})
	}
}

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()
	got := normalize(rawResult{Intent: "general"})
	if got.StatusText != "Thinking..." {
		t.Errorf("status = %q", got.StatusText)
	}
	if got.InputLanguage != "English" {
		t.Errorf("language = %q", got.InputLanguage)
	}

	got = normalize(rawResult{
		Intent:        "search",
		DynamicStatus: "Scanning web...",
		InputLanguage: "Hindi",
	})
	if got.StatusText != "Scanning web..." {
		t.Errorf("status = %q", got.StatusText)
	}
	if got.InputLanguage != "Hindi" {
		t.Errorf("language = %q", got.InputLanguage)
	}
}

func TestFallbackShape(t *testing.T) {
	t.Parallel()
	got := fallback()
	if got.Intent != IntentGeneral || got.StatusText != "Thinking..." || got.InputLanguage != "English" || got.Preference != nil {
		t.Errorf("fallback = %+v", got)
	}
}
