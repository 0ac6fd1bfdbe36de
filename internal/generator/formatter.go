package generator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ShayCichocki/docweave/internal/graph"
	"github.com/ShayCichocki/docweave/pkg/models"
)

// Formatter decides document structure. It orders upstream content under
// a title and section headings and emits a layout output; it is the only
// executor meant for the formatter-exclusive class.
type Formatter struct{}

// Execute implements graph.Executor.
func (Formatter) Execute(ctx context.Context, inputs map[string]models.Output, params models.Params) (models.Output, error) {
	title := params.Get("title", "Untitled")
	order := splitList(params.Get("order", ""))
	if len(order) == 0 {
		order = contentInputs(inputs)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", title)
	for _, name := range order {
		in, ok := inputs[name]
		if !ok {
			return models.Output{}, graph.Permanent(fmt.Errorf("formatter: order names %q which is not an input", name))
		}
		if in.Missing() {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", heading(name), strings.TrimSpace(in.Content))
	}

	var notes []string
	for _, name := range sortedNames(inputs) {
		in := inputs[name]
		if in.Kind == models.OutputVerdict {
			notes = append(notes, in.Annotations...)
		}
	}

	return models.Output{
		Kind:        models.OutputLayout,
		Content:     b.String(),
		Data:        map[string]string{"title": title, "order": strings.Join(order, ",")},
		Annotations: notes,
	}, nil
}

// contentInputs returns the names of non-missing content inputs, sorted.
func contentInputs(inputs map[string]models.Output) []string {
	var names []string
	for _, name := range sortedNames(inputs) {
		in := inputs[name]
		if in.Kind == models.OutputContent && !in.Missing() {
			names = append(names, name)
		}
	}
	return names
}

func sortedNames(inputs map[string]models.Output) []string {
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// heading turns a task name such as "key_findings" into "Key findings".
func heading(name string) string {
	s := strings.NewReplacer("_", " ", "-", " ").Replace(name)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
