// Package graph provides the validated, immutable task graph for one request.
package graph

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ShayCichocki/docweave/pkg/models"
)

// Executor is the executable unit behind a task node.
// It receives only the resolved outputs of the node's dependencies.
type Executor interface {
	Execute(ctx context.Context, inputs map[string]models.Output, params models.Params) (models.Output, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, inputs map[string]models.Output, params models.Params) (models.Output, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, inputs map[string]models.Output, params models.Params) (models.Output, error) {
	return f(ctx, inputs, params)
}

// Dependency is an edge from a node to a task whose output it consumes.
type Dependency struct {
	Name string
	// Optional dependencies may be Skipped or Failed without skipping the consumer.
	Optional bool
}

// Node is the static definition of one task. It must not be modified
// after it has been passed to Build.
type Node struct {
	Name       string
	Capability models.CapabilityClass
	Deps       []Dependency
	Timeout    time.Duration
	MaxRetries int
	Params     models.Params
	// ExecutorName is the registry key Executor was resolved from.
	ExecutorName string
	Executor     Executor

	index int
}

// Index returns the node's declaration position.
func (n *Node) Index() int { return n.index }

// DependencyNames returns the names of all dependencies in declaration order.
func (n *Node) DependencyNames() []string {
	names := make([]string, len(n.Deps))
	for i, d := range n.Deps {
		names[i] = d.Name
	}
	return names
}

// TaskGraph is an acyclic set of task nodes with exactly one terminal node,
// which holds the assembler class. Assemblers take required inputs only.
// It is safe for concurrent reads.
type TaskGraph struct {
	requestType string
	nodes       []*Node
	byName      map[string]*Node
	dependents  map[string][]string
	terminal    string
}

// Build validates nodes and returns the graph. Nodes keep their slice order
// as declaration order. Any violation yields an *InvalidGraphError and no graph.
func Build(requestType string, nodes []*Node) (*TaskGraph, error) {
	if len(nodes) == 0 {
		return nil, invalid(ReasonEmpty, "", "request type %q declares no tasks", requestType)
	}

	g := &TaskGraph{
		requestType: requestType,
		nodes:       make([]*Node, 0, len(nodes)),
		byName:      make(map[string]*Node, len(nodes)),
		dependents:  make(map[string][]string, len(nodes)),
	}

	// First pass: register nodes.
	exclusive := make(map[models.CapabilityClass]string)
	for i, n := range nodes {
		if n == nil || n.Name == "" {
			return nil, invalid(ReasonInvalidNode, "", "task %d has no name", i)
		}
		if _, dup := g.byName[n.Name]; dup {
			return nil, invalid(ReasonDuplicateNode, n.Name, "task declared more than once")
		}
		if !n.Capability.Valid() {
			return nil, invalid(ReasonInvalidNode, n.Name, "unknown capability class %q", n.Capability)
		}
		if n.MaxRetries < 0 {
			return nil, invalid(ReasonInvalidNode, n.Name, "negative retry ceiling %d", n.MaxRetries)
		}
		if n.Capability.Exclusive() {
			if holder, taken := exclusive[n.Capability]; taken {
				return nil, invalid(ReasonDuplicateCapability, n.Name,
					"capability %q already held by %q", n.Capability, holder)
			}
			exclusive[n.Capability] = n.Name
		}
		n.index = i
		g.nodes = append(g.nodes, n)
		g.byName[n.Name] = n
	}

	// Second pass: resolve edges.
	for _, n := range g.nodes {
		seen := make(map[string]bool, len(n.Deps))
		for _, d := range n.Deps {
			if _, ok := g.byName[d.Name]; !ok {
				return nil, invalid(ReasonUnknownDependency, n.Name, "depends on unknown task %q", d.Name)
			}
			if seen[d.Name] {
				return nil, invalid(ReasonInvalidNode, n.Name, "dependency %q listed twice", d.Name)
			}
			if d.Optional && n.Capability == models.CapabilityAssembler {
				return nil, invalid(ReasonInvalidNode, n.Name, "assembler cannot take optional dependency %q", d.Name)
			}
			seen[d.Name] = true
			g.dependents[d.Name] = append(g.dependents[d.Name], n.Name)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, invalid(ReasonCycle, cycle[0], "circular dependency: %s", strings.Join(cycle, " -> "))
	}

	var terminals []string
	for _, n := range g.nodes {
		if len(g.dependents[n.Name]) == 0 {
			terminals = append(terminals, n.Name)
		}
	}
	if len(terminals) != 1 {
		return nil, invalid(ReasonTerminal, "", "expected exactly one terminal task, found %d: %v", len(terminals), terminals)
	}
	if term := g.byName[terminals[0]]; term.Capability != models.CapabilityAssembler {
		return nil, invalid(ReasonTerminal, term.Name, "terminal task has capability %q, want %q",
			term.Capability, models.CapabilityAssembler)
	}
	g.terminal = terminals[0]

	return g, nil
}

// findCycle runs a depth-first search with white/gray/black coloring and
// returns the first cycle path found, or nil.
func (g *TaskGraph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)
	colors := make(map[string]int, len(g.nodes))

	var path []string
	var visit func(name string) []string
	visit = func(name string) []string {
		colors[name] = gray
		path = append(path, name)

		for _, d := range g.byName[name].Deps {
			switch colors[d.Name] {
			case gray:
				// Back edge: the cycle is the path suffix starting at d.Name.
				start := 0
				for i, p := range path {
					if p == d.Name {
						start = i
						break
					}
				}
				cycle := append([]string{}, path[start:]...)
				return append(cycle, d.Name)
			case white:
				if c := visit(d.Name); c != nil {
					return c
				}
			}
		}

		path = path[:len(path)-1]
		colors[name] = black
		return nil
	}

	for _, n := range g.nodes {
		if colors[n.Name] == white {
			if c := visit(n.Name); c != nil {
				return c
			}
		}
	}
	return nil
}

// RequestType returns the request type the graph was decomposed from.
func (g *TaskGraph) RequestType() string { return g.requestType }

// Len returns the number of nodes.
func (g *TaskGraph) Len() int { return len(g.nodes) }

// Nodes returns the nodes in declaration order.
func (g *TaskGraph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Names returns node names in declaration order.
func (g *TaskGraph) Names() []string {
	out := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.Name
	}
	return out
}

// Node returns the node with the given name.
func (g *TaskGraph) Node(name string) (*Node, bool) {
	n, ok := g.byName[name]
	return n, ok
}

// Terminal returns the name of the single node nothing depends on.
func (g *TaskGraph) Terminal() string { return g.terminal }

// Dependents returns the direct dependents of name in declaration order.
func (g *TaskGraph) Dependents(name string) []string {
	return append([]string(nil), g.dependents[name]...)
}

// TransitiveDependents returns every node reachable downstream of name,
// sorted by declaration order.
func (g *TaskGraph) TransitiveDependents(name string) []string {
	seen := make(map[string]bool)
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range g.dependents[cur] {
			if !seen[d] {
				seen[d] = true
				queue = append(queue, d)
			}
		}
	}
	return g.sortByIndex(seen)
}

// TopologicalOrder returns node names so that every node follows all of its
// dependencies. Among nodes available at the same step, declaration order wins,
// so the result is deterministic.
func (g *TaskGraph) TopologicalOrder() []string {
	remaining := make(map[string]int, len(g.nodes))
	for _, n := range g.nodes {
		remaining[n.Name] = len(n.Deps)
	}

	order := make([]string, 0, len(g.nodes))
	placed := make(map[string]bool, len(g.nodes))
	for len(order) < len(g.nodes) {
		for _, n := range g.nodes {
			if placed[n.Name] || remaining[n.Name] > 0 {
				continue
			}
			placed[n.Name] = true
			order = append(order, n.Name)
			for _, d := range g.dependents[n.Name] {
				remaining[d]--
			}
			// Restart from the front so an earlier-declared node unblocked
			// by this one is placed before later-declared siblings.
			break
		}
	}
	return order
}

// Edges returns every (dependency, dependent) pair in declaration order.
func (g *TaskGraph) Edges() [][2]string {
	var edges [][2]string
	for _, n := range g.nodes {
		for _, d := range n.Deps {
			edges = append(edges, [2]string{d.Name, n.Name})
		}
	}
	return edges
}

func (g *TaskGraph) sortByIndex(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool {
		return g.byName[out[i]].index < g.byName[out[j]].index
	})
	return out
}
