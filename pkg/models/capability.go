package models

// CapabilityClass restricts what kind of output a task may commit.
type CapabilityClass string

const (
	// CapabilityContentAuthor produces content for its own slot only.
	CapabilityContentAuthor CapabilityClass = "content-author"
	// CapabilityValidatorReadonly may only emit a verdict plus annotations.
	CapabilityValidatorReadonly CapabilityClass = "validator-readonly"
	// CapabilityFormatterExclusive is the single authority over layout directives.
	CapabilityFormatterExclusive CapabilityClass = "formatter-exclusive"
	// CapabilityAssembler composes upstream results into the final artifact.
	CapabilityAssembler CapabilityClass = "assembler"
)

// Valid returns true if the class is a known value.
func (c CapabilityClass) Valid() bool {
	switch c {
	case CapabilityContentAuthor, CapabilityValidatorReadonly, CapabilityFormatterExclusive, CapabilityAssembler:
		return true
	default:
		return false
	}
}

// Exclusive reports whether at most one task per request may hold the class.
func (c CapabilityClass) Exclusive() bool {
	return c == CapabilityFormatterExclusive
}
