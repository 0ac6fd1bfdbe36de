package generator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ShayCichocki/docweave/internal/graph"
	"github.com/ShayCichocki/docweave/pkg/models"
)

// Assembler composes the final document. It prefers the layout input and
// falls back to joining content inputs in the "order" parameter (or name
// order). A failed verdict input rejects the document unless
// require_pass is "false". With a directory configured the document is
// written to <dir>/<request>/<filename>.md.
type Assembler struct {
	dir string
}

// NewAssembler creates an Assembler writing under dir; empty dir disables writing.
func NewAssembler(dir string) *Assembler {
	return &Assembler{dir: dir}
}

// Execute implements graph.Executor.
func (a *Assembler) Execute(ctx context.Context, inputs map[string]models.Output, params models.Params) (models.Output, error) {
	if params.Get("require_pass", "true") == "true" {
		for _, name := range sortedNames(inputs) {
			in := inputs[name]
			if in.Kind == models.OutputVerdict && in.Passed != nil && !*in.Passed {
				return models.Output{}, graph.Permanent(fmt.Errorf("assembler: %s rejected the document: %s",
					name, strings.Join(in.Annotations, "; ")))
			}
		}
	}

	doc, err := compose(inputs, params)
	if err != nil {
		return models.Output{}, err
	}

	sum := sha256.Sum256([]byte(doc))
	out := models.Output{
		Kind:    models.OutputArtifact,
		Content: doc,
		Data: map[string]string{
			"sha256": hex.EncodeToString(sum[:]),
			"bytes":  strconv.Itoa(len(doc)),
		},
	}

	if a.dir == "" {
		return out, nil
	}
	requestID := params.Get(models.ParamRequestID, "")
	if requestID == "" || filepath.Base(requestID) != requestID {
		return models.Output{}, graph.Permanent(fmt.Errorf("assembler: invalid request id %q", requestID))
	}
	name := params.Get("filename", params.Get(models.ParamTask, "document"))
	if filepath.Base(name) != name || name == "." {
		return models.Output{}, graph.Permanent(fmt.Errorf("assembler: invalid filename %q", name))
	}
	path := filepath.Join(a.dir, requestID, name+".md")
	if err := writeFileAtomic(path, []byte(doc)); err != nil {
		return models.Output{}, fmt.Errorf("assembler: %w", err)
	}
	out.Data["path"] = path
	return out, nil
}

func compose(inputs map[string]models.Output, params models.Params) (string, error) {
	for _, name := range sortedNames(inputs) {
		if in := inputs[name]; in.Kind == models.OutputLayout {
			return in.Content, nil
		}
	}

	order := splitList(params.Get("order", ""))
	if len(order) == 0 {
		order = contentInputs(inputs)
	}
	if len(order) == 0 {
		return "", graph.Permanent(errors.New("assembler: no content to assemble"))
	}
	parts := make([]string, 0, len(order))
	for _, name := range order {
		in, ok := inputs[name]
		if !ok {
			return "", graph.Permanent(fmt.Errorf("assembler: order names %q which is not an input", name))
		}
		parts = append(parts, strings.TrimSpace(in.Content))
	}
	return strings.Join(parts, "\n\n") + "\n", nil
}

// writeFileAtomic replaces path so that a retried attempt never leaves a
// partially written artifact.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}
