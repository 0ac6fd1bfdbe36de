// Package guard enforces capability classes at the commit boundary: every
// task output passes through Check before it reaches the state store.
package guard

import (
	"errors"
	"fmt"

	"github.com/ShayCichocki/docweave/pkg/models"
)

// ErrCapabilityViolation is matched by every CapabilityViolationError.
var ErrCapabilityViolation = errors.New("capability violation")

// CapabilityViolationError rejects an output its task is not authorized to
// commit. Retrying cannot fix it, so the scheduler fails the task terminally.
type CapabilityViolationError struct {
	Task   string
	Class  models.CapabilityClass
	Kind   models.OutputKind
	Reason string
}

func (e *CapabilityViolationError) Error() string {
	return fmt.Sprintf("capability violation: task %q (%s) emitting %s: %s", e.Task, e.Class, e.Kind, e.Reason)
}

// Is lets errors.Is(err, ErrCapabilityViolation) match.
func (e *CapabilityViolationError) Is(target error) bool {
	return target == ErrCapabilityViolation
}

// Policy lists the output kinds each capability class may commit.
type Policy map[models.CapabilityClass][]models.OutputKind

// DefaultPolicy is the standard class table. Layout is reserved for the
// formatter; validators only ever produce verdicts.
func DefaultPolicy() Policy {
	return Policy{
		models.CapabilityContentAuthor:      {models.OutputContent},
		models.CapabilityValidatorReadonly:  {models.OutputVerdict},
		models.CapabilityFormatterExclusive: {models.OutputLayout, models.OutputContent},
		models.CapabilityAssembler:          {models.OutputArtifact, models.OutputContent},
	}
}

// Guard checks outputs against a Policy. It holds no per-request state and
// is safe for concurrent use.
type Guard struct {
	allowed map[models.CapabilityClass]map[models.OutputKind]bool
}

// New builds a guard from p. Layout is stripped from every class other than
// formatter-exclusive regardless of what p says.
func New(p Policy) *Guard {
	g := &Guard{allowed: make(map[models.CapabilityClass]map[models.OutputKind]bool)}
	for class, kinds := range p {
		set := make(map[models.OutputKind]bool, len(kinds))
		for _, k := range kinds {
			if k == models.OutputLayout && class != models.CapabilityFormatterExclusive {
				continue
			}
			set[k] = true
		}
		g.allowed[class] = set
	}
	return g
}

// Allowed reports whether class may commit kind, with a reason when it may not.
func (g *Guard) Allowed(class models.CapabilityClass, kind models.OutputKind) (bool, string) {
	if !kind.Valid() {
		return false, fmt.Sprintf("unknown output kind %q", kind)
	}
	if kind == models.OutputLayout && class != models.CapabilityFormatterExclusive {
		return false, "only the formatter-exclusive task may emit layout directives"
	}
	set, ok := g.allowed[class]
	if !ok {
		return false, fmt.Sprintf("no policy for capability %q", class)
	}
	if !set[kind] {
		return false, fmt.Sprintf("%s may not emit %s output", class, kind)
	}
	return true, ""
}

// Check returns nil when task may commit out, or a *CapabilityViolationError.
func (g *Guard) Check(task string, class models.CapabilityClass, out models.Output) error {
	violation := func(reason string) error {
		return &CapabilityViolationError{Task: task, Class: class, Kind: out.Kind, Reason: reason}
	}

	if out.Replaces != "" && out.Replaces != task {
		if class == models.CapabilityValidatorReadonly {
			return violation(fmt.Sprintf("validator may not overwrite the result of %q", out.Replaces))
		}
		return violation(fmt.Sprintf("may not overwrite the result of %q", out.Replaces))
	}

	if ok, reason := g.Allowed(class, out.Kind); !ok {
		return violation(reason)
	}

	if class == models.CapabilityValidatorReadonly && out.Passed == nil {
		return violation("verdict has no pass/fail value")
	}
	return nil
}
