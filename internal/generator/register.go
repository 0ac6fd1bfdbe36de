package generator

import (
	"github.com/ShayCichocki/docweave/internal/graph"
	"github.com/ShayCichocki/docweave/internal/registry"
)

// Register installs every built-in executor into reg. "claude" is an
// alias for "author".
func Register(reg *registry.Registry, c Completer, artifactsDir string) error {
	author := NewAuthor(c)
	executors := []struct {
		name string
		ex   graph.Executor
	}{
		{"author", author},
		{"claude", author},
		{"static", Static{}},
		{"formatter", Formatter{}},
		{"validator", Validator{}},
		{"assembler", NewAssembler(artifactsDir)},
	}
	for _, e := range executors {
		if err := reg.RegisterExecutor(e.name, e.ex); err != nil {
			return err
		}
	}
	return nil
}
