package generator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ShayCichocki/docweave/internal/graph"
	"github.com/ShayCichocki/docweave/pkg/models"
)

const defaultAuthorSystem = `You are one contributor to a larger document. Write only the part you are asked for,
in clear prose, building on the upstream material you are given. Do not add headings for
other sections and do not repeat the upstream material verbatim.`

// Author writes one section of content with a Completer. The instruction
// comes from the "prompt" parameter; upstream outputs are quoted as context.
type Author struct {
	completer Completer
}

// NewAuthor creates an Author backed by c.
func NewAuthor(c Completer) *Author {
	return &Author{completer: c}
}

// Execute implements graph.Executor.
func (a *Author) Execute(ctx context.Context, inputs map[string]models.Output, params models.Params) (models.Output, error) {
	instruction := params.Get("prompt", "")
	if instruction == "" {
		return models.Output{}, graph.Permanent(errors.New("author: missing prompt parameter"))
	}

	text, err := a.completer.Complete(ctx, Prompt{
		System: params.Get("system", defaultAuthorSystem),
		User:   buildPrompt(instruction, inputs, params),
		Task:   params.Get(models.ParamTask, ""),
		Topic:  params.Get("topic", ""),
	})
	if err != nil {
		return models.Output{}, err
	}
	text = strings.TrimSpace(text)
	return models.Output{
		Kind:    models.OutputContent,
		Content: text,
		Data:    map[string]string{"words": strconv.Itoa(len(strings.Fields(text)))},
	}, nil
}

// buildPrompt quotes upstream content in name order, then the instruction.
func buildPrompt(instruction string, inputs map[string]models.Output, params models.Params) string {
	var b strings.Builder
	if audience := params.Get("audience", ""); audience != "" {
		fmt.Fprintf(&b, "Audience: %s\n\n", audience)
	}

	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		in := inputs[name]
		if in.Missing() || strings.TrimSpace(in.Content) == "" {
			continue
		}
		fmt.Fprintf(&b, "<upstream name=%q>\n%s\n</upstream>\n\n", name, strings.TrimSpace(in.Content))
	}
	b.WriteString(instruction)
	return b.String()
}
