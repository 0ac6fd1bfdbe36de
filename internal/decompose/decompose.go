// Package decompose turns a request type and its parameters into a
// validated task graph.
package decompose

import (
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ShayCichocki/docweave/internal/graph"
	"github.com/ShayCichocki/docweave/internal/registry"
	"github.com/ShayCichocki/docweave/pkg/models"
)

// placeholder matches {{name}} in task parameters.
var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// Decomposer builds task graphs from registered request types.
// Decomposition is pure: the same request type always yields the same node
// set and edges, only per-node parameters vary with the request.
type Decomposer struct {
	registry          *registry.Registry
	defaultTimeout    time.Duration
	defaultMaxRetries int
	log               logrus.FieldLogger
}

// Option configures a Decomposer.
type Option func(*Decomposer)

// WithDefaultTimeout sets the timeout for tasks that do not declare one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(dc *Decomposer) { dc.defaultTimeout = d }
}

// WithDefaultMaxRetries sets the retry ceiling for tasks that do not declare one.
func WithDefaultMaxRetries(n int) Option {
	return func(dc *Decomposer) { dc.defaultMaxRetries = n }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(dc *Decomposer) { dc.log = log }
}

// New creates a Decomposer backed by reg.
func New(reg *registry.Registry, opts ...Option) *Decomposer {
	d := &Decomposer{
		registry:          reg,
		defaultTimeout:    2 * time.Minute,
		defaultMaxRetries: 2,
		log:               logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decompose returns the graph for requestType bound to params, or an
// *graph.InvalidGraphError. No partial graph is ever returned.
func (d *Decomposer) Decompose(requestType string, params models.Params) (*graph.TaskGraph, error) {
	rt, ok := d.registry.Type(requestType)
	if !ok {
		return nil, &graph.InvalidGraphError{
			Reason: graph.ReasonUnknownRequestType,
			Detail: "no request type named " + requestType,
		}
	}

	nodes, err := rt.Skeleton()
	if err != nil {
		return nil, &graph.InvalidGraphError{Reason: graph.ReasonInvalidNode, Detail: err.Error()}
	}

	for i, n := range nodes {
		def := rt.Tasks[i]

		exec, ok := d.registry.Executor(n.ExecutorName)
		if !ok {
			return nil, &graph.InvalidGraphError{
				Reason: graph.ReasonUnknownExecutor,
				Node:   n.Name,
				Detail: "no executor named " + n.ExecutorName,
			}
		}
		n.Executor = exec

		if n.Timeout == 0 {
			n.Timeout = d.defaultTimeout
		}
		if def.MaxRetries == nil {
			n.MaxRetries = d.defaultMaxRetries
		}
		n.Params = BindParams(n.Params, params)
	}

	g, err := graph.Build(rt.Name, nodes)
	if err != nil {
		return nil, err
	}

	d.log.WithFields(logrus.Fields{
		"type":     rt.Name,
		"tasks":    g.Len(),
		"terminal": g.Terminal(),
	}).Debug("request decomposed")
	return g, nil
}

// BindParams merges request parameters with a task's declared parameters.
// Task values may reference request values as {{name}}; unknown
// placeholders are left untouched. Declared task parameters win on conflict.
func BindParams(task, request models.Params) models.Params {
	out := request.Clone()
	for k, v := range task {
		out[k] = placeholder.ReplaceAllStringFunc(v, func(m string) string {
			key := placeholder.FindStringSubmatch(m)[1]
			if val, ok := request[key]; ok {
				return val
			}
			return m
		})
	}
	return out
}
