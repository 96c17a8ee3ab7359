// Package stream turns agent graph events into the client-facing
// tagged protocol: control lines of the form __TAG__:payload
// interleaved with bare answer text, with a THOUGHT to ANSWER state
// machine over the raw token feed.
package stream

import "encoding/json"

// Writer receives encoded protocol fragments in order. An error stops
// the turn; it is how client disconnects surface.
type Writer func(fragment string) error

// Control tags of the output protocol. __ANSWER__: with an empty
// payload marks the start of final-answer text; everything after it,
// except further control lines, is rendered verbatim.
const (
	tagStatus        = "__STATUS__:"
	tagThought       = "__THOUGHT__:"
	tagAnswer        = "__ANSWER__:"
	tagSources       = "__SOURCES__:"
	tagIcon          = "__ICON__:"
	tagAgent         = "__AGENT__:"
	tagSkeletonStart = "__SKELETON_START__:"
	tagSkeletonEnd   = "__SKELETON_END__:"
	tagUpdatePref    = "__UPDATE_PREF__:"
)

// Encoder writes protocol fragments. It performs no buffering; every
// call maps to exactly one writer invocation.
type Encoder struct {
	w Writer
}

// NewEncoder wraps a writer.
func NewEncoder(w Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) Status(text string) error  { return e.w(tagStatus + text) }
func (e *Encoder) Thought(text string) error { return e.w(tagThought + text) }
func (e *Encoder) Icon(name string) error    { return e.w(tagIcon + name) }
func (e *Encoder) Agent(name string) error   { return e.w(tagAgent + name) }
func (e *Encoder) AnswerStart() error        { return e.w(tagAnswer) }
func (e *Encoder) SkeletonStart() error      { return e.w(tagSkeletonStart) }
func (e *Encoder) SkeletonEnd() error        { return e.w(tagSkeletonEnd) }

// Text emits a bare answer fragment.
func (e *Encoder) Text(delta string) error { return e.w(delta) }

// Sources emits a JSON-encoded payload of citation sources.
func (e *Encoder) Sources(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return e.w(tagSources + string(data))
}

// UpdatePreference announces a confirmed preference change as a
// single-key JSON object.
func (e *Encoder) UpdatePreference(key, value string) error {
	data, err := json.Marshal(map[string]string{key: value})
	if err != nil {
		return err
	}
	return e.w(tagUpdatePref + string(data))
}
