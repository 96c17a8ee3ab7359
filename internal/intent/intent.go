// Package intent classifies free-form user text into a routing intent.
//
// Classification is a single structured model call constrained to a
// fixed JSON schema. Failures are never fatal to a turn: any malformed
// output or call failure falls back to a deterministic default.
package intent

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/harshtiwari/haral/internal/log"
)

// Intent is the closed set of routing labels.
type Intent string

// Known intents.
const (
	IntentSearch           Intent = "search"
	IntentReasoning        Intent = "reasoning"
	IntentGeneral          Intent = "general"
	IntentChangePreference Intent = "change_preference"
)

// PreferencePatch is an optional settings mutation extracted from the
// utterance (e.g. "change language to Hindi").
type PreferencePatch struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Classification is the classifier's per-turn output.
type Classification struct {
	Intent        Intent
	StatusText    string
	InputLanguage string
	Preference    *PreferencePatch // nil unless intent is change_preference
}

// fallback is returned on any classification failure.
func fallback() Classification {
	return Classification{
		Intent:        IntentGeneral,
		StatusText:    "Thinking...",
		InputLanguage: "English",
	}
}

// classifyTimeout bounds the classification call; a slow classifier must
// not hold up the turn.
const classifyTimeout = 10 * time.Second

// maxResponseBytes limits the model response size before JSON parsing.
const maxResponseBytes = 4 * 1024

const classifyPrompt = `You are the routing brain of an AI assistant named Haral.

Your task:
1. Analyze the user's input.
2. Classify it into EXACTLY one category: 'search', 'reasoning', 'general', or 'change_preference'.
3. Write a short present-tense 'dynamic_status' describing the action you are taking.
4. Detect the language of the input (e.g. "English", "Hindi").
5. If and ONLY if the user commands a settings change (e.g. "change language to Hindi"),
   fill preference_key and preference_value. Questions about preferences are NOT commands:
   leave preference_value empty or "none".

Categories:
- search: current events, news, weather, facts, sports. Status ex: "Scanning web for real-time weather..."
- reasoning: logic, math, coding, planning. Status ex: "Analyzing logic steps..."
- general: greetings, chat, creative writing. Status ex: "Thinking of a creative response..."
- change_preference: explicit commands to change a setting.

Output JSON only:
{"intent": "...", "dynamic_status": "...", "input_language": "...", "preference_key": "...", "preference_value": "..."}

User input: %s`

// rawResult mirrors the JSON schema the model is asked to produce.
type rawResult struct {
	Intent          string `json:"intent"`
	DynamicStatus   string `json:"dynamic_status"`
	InputLanguage   string `json:"input_language"`
	PreferenceKey   string `json:"preference_key"`
	PreferenceValue string `json:"preference_value"`
}

// Classifier performs single-shot intent classification.
type Classifier struct {
	g         *genkit.Genkit
	modelName string
	logger    log.Logger
}

// NewClassifier creates a classifier using the given tooling model.
func NewClassifier(g *genkit.Genkit, modelName string, logger log.Logger) *Classifier {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Classifier{g: g, modelName: modelName, logger: logger}
}

// Classify maps user text to a Classification. It never returns an
// error; every failure path yields the deterministic fallback.
func (c *Classifier) Classify(ctx context.Context, userText string) Classification {
	ctx, cancel := context.WithTimeout(ctx, classifyTimeout)
	defer cancel()

	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.modelName),
		ai.WithPrompt(classifyPrompt, userText),
	)
	if err != nil {
		c.logger.Debug("intent classification failed", "error", err)
		return fallback()
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" || len(text) > maxResponseBytes {
		return fallback()
	}

	raw, ok := parseResult(text)
	if !ok {
		c.logger.Debug("intent classification returned malformed JSON", "raw_len", len(text))
		return fallback()
	}

	return normalize(raw)
}

// parseResult extracts the first JSON object from the model output.
// Models sometimes wrap JSON in code fences or prose; take the outermost
// braces, as the supervisor routing does.
func parseResult(text string) (rawResult, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return rawResult{}, false
	}

	var raw rawResult
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return rawResult{}, false
	}
	return raw, true
}

// normalize applies the label-matching and preference-demotion rules.
//
// The intent string is case-folded and matched by substring against the
// known labels, defaulting to general. change_preference is demoted to
// general when the extracted value is empty or a "none"/"null" sentinel,
// so preference questions never mutate preferences.
func normalize(raw rawResult) Classification {
	out := fallback()

	if raw.DynamicStatus != "" {
		out.StatusText = raw.DynamicStatus
	}
	if raw.InputLanguage != "" {
		out.InputLanguage = raw.InputLanguage
	}

	label := strings.ToLower(strings.TrimSpace(raw.Intent))
	switch {
	case strings.Contains(label, "change_preference"), strings.Contains(label, "preference"):
		out.Intent = IntentChangePreference
	case strings.Contains(label, "search"):
		out.Intent = IntentSearch
	case strings.Contains(label, "reasoning"):
		out.Intent = IntentReasoning
	default:
		out.Intent = IntentGeneral
	}

	if out.Intent == IntentChangePreference {
		value := strings.TrimSpace(raw.PreferenceValue)
		if value == "" || strings.EqualFold(value, "none") || strings.EqualFold(value, "null") {
			out.Intent = IntentGeneral
			return out
		}
		key := strings.TrimSpace(raw.PreferenceKey)
		if key == "" {
			out.Intent = IntentGeneral
			return out
		}
		out.Preference = &PreferencePatch{Key: key, Value: value}
	}

	return out
}
