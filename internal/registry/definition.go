package registry

import (
	"fmt"
	"time"

	"github.com/ShayCichocki/docweave/internal/graph"
	"github.com/ShayCichocki/docweave/pkg/models"
)

// TaskDefinition declares one task of a request type.
type TaskDefinition struct {
	Name       string                 `yaml:"name" toml:"name" json:"name"`
	Executor   string                 `yaml:"executor" toml:"executor" json:"executor"`
	Capability models.CapabilityClass `yaml:"capability" toml:"capability" json:"capability"`
	// DependsOn lists required dependencies.
	DependsOn []string `yaml:"depends_on" toml:"depends_on" json:"depends_on,omitempty"`
	// Optional lists dependencies the task can run without.
	Optional []string `yaml:"optional" toml:"optional" json:"optional,omitempty"`
	// Timeout is a Go duration string; empty means the engine default.
	Timeout string `yaml:"timeout" toml:"timeout" json:"timeout,omitempty"`
	// MaxRetries overrides the engine default when set.
	MaxRetries *int              `yaml:"max_retries" toml:"max_retries" json:"max_retries,omitempty"`
	Params     map[string]string `yaml:"params" toml:"params" json:"params,omitempty"`
}

// RequestType is a named, fixed task graph shape.
type RequestType struct {
	Name        string           `yaml:"name" toml:"name" json:"name"`
	Description string           `yaml:"description" toml:"description" json:"description,omitempty"`
	Tasks       []TaskDefinition `yaml:"tasks" toml:"tasks" json:"tasks"`
	// Source is the file the type was loaded from, or "builtin".
	Source string `yaml:"-" toml:"-" json:"source,omitempty"`
}

// ParseTimeout returns the task timeout, or zero when unset.
func (d TaskDefinition) ParseTimeout() (time.Duration, error) {
	if d.Timeout == "" {
		return 0, nil
	}
	timeout, err := time.ParseDuration(d.Timeout)
	if err != nil {
		return 0, fmt.Errorf("task %q: parse timeout: %w", d.Name, err)
	}
	if timeout < 0 {
		return 0, fmt.Errorf("task %q: negative timeout %s", d.Name, d.Timeout)
	}
	return timeout, nil
}

// Skeleton converts the definitions into unbound graph nodes: no executor,
// no request parameters applied, retries and timeout as declared.
func (rt RequestType) Skeleton() ([]*graph.Node, error) {
	nodes := make([]*graph.Node, 0, len(rt.Tasks))
	for _, td := range rt.Tasks {
		timeout, err := td.ParseTimeout()
		if err != nil {
			return nil, err
		}
		n := &graph.Node{
			Name:         td.Name,
			Capability:   td.Capability,
			Timeout:      timeout,
			ExecutorName: td.Executor,
			Params:       models.Params(td.Params).Clone(),
		}
		if td.MaxRetries != nil {
			n.MaxRetries = *td.MaxRetries
		}
		for _, dep := range td.DependsOn {
			n.Deps = append(n.Deps, graph.Dependency{Name: dep})
		}
		for _, dep := range td.Optional {
			n.Deps = append(n.Deps, graph.Dependency{Name: dep, Optional: true})
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// Validate checks the type's shape by building its graph.
func (rt RequestType) Validate() error {
	if rt.Name == "" {
		return fmt.Errorf("request type has no name")
	}
	for _, td := range rt.Tasks {
		if td.Executor == "" {
			return fmt.Errorf("request type %q: task %q has no executor", rt.Name, td.Name)
		}
	}
	nodes, err := rt.Skeleton()
	if err != nil {
		return fmt.Errorf("request type %q: %w", rt.Name, err)
	}
	if _, err := graph.Build(rt.Name, nodes); err != nil {
		return err
	}
	return nil
}
