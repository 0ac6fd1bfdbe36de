package generator

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ShayCichocki/docweave/internal/graph"
	"github.com/ShayCichocki/docweave/pkg/models"
)

// Validator reviews upstream content and returns a verdict with
// annotations. It never produces replacement content.
//
// Parameters:
//   - min_words: minimum word count per input
//   - require: comma-separated phrases that must appear somewhere
//   - forbid: comma-separated phrases that must not appear anywhere
type Validator struct{}

// Execute implements graph.Executor.
func (Validator) Execute(ctx context.Context, inputs map[string]models.Output, params models.Params) (models.Output, error) {
	minWords := 0
	if v := params.Get("min_words", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return models.Output{}, graph.Permanent(fmt.Errorf("validator: invalid min_words %q", v))
		}
		minWords = n
	}

	names := contentInputs(inputs)
	if len(names) == 0 {
		return models.Verdict(false, "nothing to review"), nil
	}

	var notes []string
	var all strings.Builder
	for _, name := range names {
		content := inputs[name].Content
		if words := len(strings.Fields(content)); words < minWords {
			notes = append(notes, fmt.Sprintf("%s: %d words, need at least %d", name, words, minWords))
		}
		all.WriteString(strings.ToLower(content))
		all.WriteByte('\n')
	}
	text := all.String()
	for _, phrase := range splitList(params.Get("require", "")) {
		if !strings.Contains(text, strings.ToLower(phrase)) {
			notes = append(notes, fmt.Sprintf("missing required phrase %q", phrase))
		}
	}
	for _, phrase := range splitList(params.Get("forbid", "")) {
		if strings.Contains(text, strings.ToLower(phrase)) {
			notes = append(notes, fmt.Sprintf("contains forbidden phrase %q", phrase))
		}
	}

	out := models.Verdict(len(notes) == 0, notes...)
	out.Data = map[string]string{"reviewed": strings.Join(names, ",")}
	return out, nil
}
