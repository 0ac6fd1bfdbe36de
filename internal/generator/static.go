package generator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ShayCichocki/docweave/internal/graph"
	"github.com/ShayCichocki/docweave/pkg/models"
)

// Static returns the "text" parameter verbatim, tagged with the "kind"
// parameter (content by default).
type Static struct{}

// Execute implements graph.Executor.
func (Static) Execute(ctx context.Context, inputs map[string]models.Output, params models.Params) (models.Output, error) {
	text, ok := params["text"]
	if !ok {
		return models.Output{}, graph.Permanent(errors.New("static: missing text parameter"))
	}
	kind := models.OutputKind(params.Get("kind", string(models.OutputContent)))
	if !kind.Valid() {
		return models.Output{}, graph.Permanent(fmt.Errorf("static: unknown output kind %q", kind))
	}
	out := models.Output{Kind: kind, Content: text}
	if kind == models.OutputVerdict {
		passed := params.Get("passed", "true") == "true"
		out.Passed = &passed
	}
	return out, nil
}
