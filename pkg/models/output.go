package models

// OutputKind tags what a task output represents.
type OutputKind string

const (
	// OutputContent is generated document content.
	OutputContent OutputKind = "content"
	// OutputVerdict is a pass/fail judgement with annotations.
	OutputVerdict OutputKind = "verdict"
	// OutputLayout carries structural and layout directives.
	OutputLayout OutputKind = "layout"
	// OutputArtifact references the assembled document.
	OutputArtifact OutputKind = "artifact"
)

// Valid returns true if the kind is a known value.
func (k OutputKind) Valid() bool {
	switch k {
	case OutputContent, OutputVerdict, OutputLayout, OutputArtifact:
		return true
	default:
		return false
	}
}

// Parameters set by the engine on every task invocation.
const (
	ParamRequestID = "request_id"
	ParamTask      = "task"
)

// Params are the caller-supplied parameters of a request.
type Params map[string]string

// Get returns the value for key or def when unset.
func (p Params) Get(key, def string) string {
	if v, ok := p[key]; ok && v != "" {
		return v
	}
	return def
}

// Clone returns an independent copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Output is the value a task produces and the store persists.
type Output struct {
	// Kind tags what the output represents.
	Kind OutputKind `json:"kind"`
	// Content is the primary text payload.
	Content string `json:"content,omitempty"`
	// Data holds structured values such as artifact paths or layout keys.
	Data map[string]string `json:"data,omitempty"`
	// Annotations are free-form notes, used by validators.
	Annotations []string `json:"annotations,omitempty"`
	// Passed is the verdict of a validator.
	Passed *bool `json:"passed,omitempty"`
	// Replaces names another task whose stored result this output would overwrite.
	Replaces string `json:"replaces,omitempty"`
	// Sources lists the upstream tasks the output was derived from.
	Sources []string `json:"sources,omitempty"`
}

// Missing reports whether the output is the placeholder handed to a task
// in place of an optional dependency that did not succeed.
func (o Output) Missing() bool {
	return o.Data != nil && o.Data["missing"] == "true"
}

// MissingOutput builds the placeholder for an unresolved optional dependency.
func MissingOutput(task string) Output {
	return Output{
		Kind: OutputContent,
		Data: map[string]string{"missing": "true", "task": task},
	}
}

// Verdict builds a validator output.
func Verdict(passed bool, annotations ...string) Output {
	return Output{Kind: OutputVerdict, Passed: &passed, Annotations: annotations}
}
