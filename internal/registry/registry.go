// Package registry maps executor names to task bodies and request types to
// task graph definitions. A Registry is an explicit object handed to the
// decomposer; there is no process-wide instance.
package registry

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/docweave/internal/graph"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Registry holds executors and request types. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]graph.Executor
	types     map[string]RequestType
	log       logrus.FieldLogger
}

// New creates an empty registry.
func New(log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{
		executors: make(map[string]graph.Executor),
		types:     make(map[string]RequestType),
		log:       log.WithField("component", "registry"),
	}
}

// RegisterExecutor binds a name to a task body, replacing any previous binding.
func (r *Registry) RegisterExecutor(name string, e graph.Executor) error {
	if name == "" {
		return fmt.Errorf("executor name is empty")
	}
	if e == nil {
		return fmt.Errorf("executor %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[name] = e
	return nil
}

// Executor returns the task body registered under name.
func (r *Registry) Executor(name string) (graph.Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[name]
	return e, ok
}

// ExecutorNames returns registered executor names, sorted.
func (r *Registry) ExecutorNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterType validates rt and stores it, replacing any type with the same name.
// An invalid type leaves the registry unchanged.
func (r *Registry) RegisterType(rt RequestType) error {
	if err := rt.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[rt.Name] = rt
	return nil
}

// Type returns the request type with the given name.
func (r *Registry) Type(name string) (RequestType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.types[name]
	return rt, ok
}

// Types returns all request types sorted by name.
func (r *Registry) Types() []RequestType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RequestType, 0, len(r.types))
	for _, rt := range r.types {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LoadBuiltin registers the request types shipped with the binary.
func (r *Registry) LoadBuiltin() error {
	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return fmt.Errorf("read builtin definitions: %w", err)
	}
	for _, entry := range entries {
		data, err := builtinFS.ReadFile("builtin/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read builtin %s: %w", entry.Name(), err)
		}
		rt, err := Parse(entry.Name(), data)
		if err != nil {
			return err
		}
		rt.Source = "builtin"
		if err := r.RegisterType(rt); err != nil {
			return fmt.Errorf("builtin %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// LoadFile parses and registers one definition file.
func (r *Registry) LoadFile(path string) (RequestType, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RequestType{}, fmt.Errorf("read definition: %w", err)
	}
	rt, err := Parse(path, data)
	if err != nil {
		return RequestType{}, err
	}
	rt.Source = path
	if err := r.RegisterType(rt); err != nil {
		return RequestType{}, fmt.Errorf("%s: %w", path, err)
	}
	return rt, nil
}

// LoadDir registers every definition file in dir. Invalid files are logged
// and skipped; the count of loaded types is returned.
func (r *Registry) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read definitions dir: %w", err)
	}
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !IsDefinitionFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		rt, err := r.LoadFile(path)
		if err != nil {
			r.log.WithError(err).WithField("file", path).Warn("skipping invalid definition")
			continue
		}
		r.log.WithFields(logrus.Fields{"file": path, "type": rt.Name}).Debug("loaded request type")
		loaded++
	}
	return loaded, nil
}

// IsDefinitionFile reports whether name has a supported extension.
func IsDefinitionFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".toml":
		return true
	default:
		return false
	}
}

// Parse decodes a YAML or TOML definition, chosen by the name's extension.
func Parse(name string, data []byte) (RequestType, error) {
	var rt RequestType
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &rt); err != nil {
			return RequestType{}, fmt.Errorf("parse %s: %w", name, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &rt); err != nil {
			return RequestType{}, fmt.Errorf("parse %s: %w", name, err)
		}
	default:
		return RequestType{}, fmt.Errorf("parse %s: unsupported definition format", name)
	}
	return rt, nil
}
