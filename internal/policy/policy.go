// Package policy centralizes the assistant identity, conduct rules, and
// system prompt assembly.
//
// All functions are pure: the same inputs always produce the same prompt
// text, with no side effects. Prompts are composed in a fixed order:
// identity, conduct rules, user profile block, language directive, and a
// role-specific mode trailer.
package policy

import (
	"fmt"
	"sort"
	"strings"
)

// Role selects the mode trailer appended to the system prompt.
type Role string

// Prompt roles. Each maps to one specialist behavior of the assistant.
const (
	RoleGeneral   Role = "general"
	RoleReasoning Role = "reasoning"
	RoleSearch    Role = "search"
	RoleVision    Role = "vision"
	RoleCoder     Role = "coder"
)

// UserContext carries profile data injected into the prompt.
// A zero value produces no profile block.
type UserContext struct {
	Name        string
	Preferences map[string]string
}

// identityDirective pins the assistant identity regardless of the
// underlying model vendor.
const identityDirective = "You are Haral, an advanced AI assistant. " +
	"You are created by Harsh Tiwari. Your owner is Harsh Tiwari, not any model vendor. " +
	"Never tell users that you are made by Google, Meta, or OpenAI. " +
	"You serve Harsh Tiwari and his authorized users."

// conductRules is the safety and conduct layer.
const conductRules = "REGULATIONS AND CONDUCT:\n" +
	"1. STRICTLY PROHIBITED: Do not generate hate speech, explicit violence, sexually explicit content, or content that promotes illegal acts.\n" +
	"2. ABUSIVE BEHAVIOR: Do not engage in or encourage abusive, harassing, or bullying behavior.\n" +
	"3. MALICIOUS INTENT: Refuse any request that demonstrates wrong intention, such as generating malware, phishing scripts, or harming others.\n" +
	"4. If a user request violates these rules, politely decline and explain why."

// BuildSystemPrompt composes the system instruction for a role.
//
// Order is fixed: identity, conduct rules, user profile (when non-empty),
// language directive, mode trailer. The language directive implements
// input mirroring: the detected language of the latest user utterance
// always wins over the stored preference, and English input is never
// translated into the preferred language.
func BuildSystemPrompt(role Role, language string, userCtx UserContext) string {
	var b strings.Builder

	b.WriteString(identityDirective)
	b.WriteString("\n")
	b.WriteString(conductRules)
	b.WriteString("\n")

	if block := userContextBlock(userCtx); block != "" {
		b.WriteString(block)
		b.WriteString("\n")
	}

	b.WriteString(languageDirective(language))

	if trailer := modeTrailer(role); trailer != "" {
		b.WriteString("\n")
		b.WriteString(trailer)
	}

	return b.String()
}

// languageDirective builds the language protocol block.
// Default language is English. A stored preference never overrides the
// language the user actually wrote in.
func languageDirective(language string) string {
	lang := strings.TrimSpace(language)
	if lang == "" || strings.EqualFold(lang, "english") {
		return "[LANGUAGE PROTOCOL]:\n" +
			"1. Default: English.\n" +
			"2. MIRRORING: If the user speaks a different language (e.g. Hindi, French), you MUST reply in THAT language."
	}

	upper := strings.ToUpper(lang)
	return fmt.Sprintf("[LANGUAGE PROTOCOL]:\n"+
		"1. User Preference: %s.\n"+
		"2. CRITICAL OVERRIDE (MIRRORING): Check the language of the user's latest message.\n"+
		"   - If the user wrote in English, you MUST reply in ENGLISH.\n"+
		"   - If the user wrote in %s, reply in %s.\n"+
		"   - NEVER translate an English input into %s. Reply in the language the user used.",
		upper, lang, lang, lang)
}

// userContextBlock formats the user profile for prompt injection.
// Preferences are sorted by key so output stays deterministic.
func userContextBlock(userCtx UserContext) string {
	if userCtx.Name == "" && len(userCtx.Preferences) == 0 {
		return ""
	}

	name := userCtx.Name
	if name == "" {
		name = "User"
	}

	prefStr := "No specific preferences set."
	if len(userCtx.Preferences) > 0 {
		keys := make([]string, 0, len(userCtx.Preferences))
		for k := range userCtx.Preferences {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, fmt.Sprintf("%s: %s", capitalize(k), userCtx.Preferences[k]))
		}
		prefStr = strings.Join(pairs, ", ")
	}

	return fmt.Sprintf("[USER PROFILE DATA]\n"+
		"- Name: %s\n"+
		"- Settings/Preferences: %s\n"+
		"INSTRUCTION: You have access to this profile data. "+
		"If the user asks 'Who am I?', 'What is my name?', or 'What are my preferences?', "+
		"answer clearly using this information.", name, prefStr)
}

// modeTrailer returns the role-specific instruction appended last.
func modeTrailer(role Role) string {
	switch role {
	case RoleReasoning:
		return "MODE: REASONING. Think step-by-step. Use headings."
	case RoleSearch:
		return "MODE: WEB SEARCH. Use the provided results to answer accurately."
	case RoleVision:
		return "MODE: VISION. Describe the image in detail."
	case RoleCoder:
		return "MODE: CODER. Output THOUGHT: <Plan>, then code."
	case RoleGeneral:
		return ""
	default:
		return ""
	}
}

// AnswerFormatRules is appended to the general node's instruction inside
// the agent graph. It establishes the THOUGHT convention and the inline
// directive vocabulary consumed by the streaming multiplexer.
const AnswerFormatRules = "**OUTPUT FORMAT:**\n" +
	"1. Start with 'THOUGHT: <Reasoning>'.\n" +
	"2. Then provide the ANSWER.\n\n" +
	"**DATA RULES:**\n" +
	"1. **WEB SEARCH:** Summarize. Cite inline [1]. NO reference list.\n" +
	"2. **VIDEO DATA:** Format using bullet points (Title, Views, etc).\n" +
	"3. **YOUTUBE:** Embed video using [[YOUTUBE: <ID>]].\n" +
	"4. **IMAGE:** Only if asked, use [[GENERATE_IMAGE: <Prompt>]]."

// capitalize upper-cases the first byte of an ASCII key.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
