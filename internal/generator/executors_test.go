package generator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/docweave/internal/graph"
	"github.com/ShayCichocki/docweave/pkg/models"
)

type recordingCompleter struct {
	prompts []Prompt
	reply   string
	err     error
}

func (r *recordingCompleter) Complete(ctx context.Context, p Prompt) (string, error) {
	r.prompts = append(r.prompts, p)
	return r.reply, r.err
}

func content(text string) models.Output {
	return models.Output{Kind: models.OutputContent, Content: text}
}

func TestAuthor_BuildsPromptFromInputs(t *testing.T) {
	rc := &recordingCompleter{reply: "  three short words  "}
	a := NewAuthor(rc)

	out, err := a.Execute(context.Background(),
		map[string]models.Output{
			"outline": content("1. start"),
			"review":  models.MissingOutput("review"),
			"body":    content("middle"),
		},
		models.Params{"prompt": "Write the end.", "topic": "tides", "audience": "sailors", models.ParamTask: "conclusion"})
	require.NoError(t, err)

	assert.Equal(t, models.OutputContent, out.Kind)
	assert.Equal(t, "three short words", out.Content)
	assert.Equal(t, "3", out.Data["words"])

	require.Len(t, rc.prompts, 1)
	p := rc.prompts[0]
	assert.Equal(t, "conclusion", p.Task)
	assert.Equal(t, "tides", p.Topic)
	assert.Equal(t, defaultAuthorSystem, p.System)
	assert.True(t, strings.HasPrefix(p.User, "Audience: sailors"))
	assert.True(t, strings.HasSuffix(p.User, "Write the end."))
	assert.Less(t, strings.Index(p.User, `name="body"`), strings.Index(p.User, `name="outline"`))
	assert.NotContains(t, p.User, `name="review"`)
}

func TestAuthor_Errors(t *testing.T) {
	_, err := NewAuthor(&recordingCompleter{}).Execute(context.Background(), nil, models.Params{})
	assert.True(t, graph.IsPermanent(err))

	boom := errors.New("overloaded")
	_, err = NewAuthor(&recordingCompleter{err: boom}).Execute(context.Background(), nil, models.Params{"prompt": "x"})
	assert.ErrorIs(t, err, boom)
	assert.False(t, graph.IsPermanent(err))
}

func TestStatic(t *testing.T) {
	out, err := Static{}.Execute(context.Background(), nil, models.Params{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, content("hello"), out)

	out, err = Static{}.Execute(context.Background(), nil, models.Params{"text": "", "kind": "verdict", "passed": "false"})
	require.NoError(t, err)
	require.NotNil(t, out.Passed)
	assert.False(t, *out.Passed)

	_, err = Static{}.Execute(context.Background(), nil, models.Params{})
	assert.True(t, graph.IsPermanent(err))
	_, err = Static{}.Execute(context.Background(), nil, models.Params{"text": "x", "kind": "poem"})
	assert.True(t, graph.IsPermanent(err))
}

func TestFormatter(t *testing.T) {
	inputs := map[string]models.Output{
		"introduction": content("Hello."),
		"key_findings": content("Found it."),
		"conclusion":   models.MissingOutput("conclusion"),
		"review":       models.Verdict(false, "too short"),
	}

	out, err := Formatter{}.Execute(context.Background(), inputs,
		models.Params{"title": "Tides", "order": "key_findings, introduction, conclusion"})
	require.NoError(t, err)

	assert.Equal(t, models.OutputLayout, out.Kind)
	assert.Equal(t, "# Tides\n\n## Key findings\n\nFound it.\n\n## Introduction\n\nHello.\n", out.Content)
	assert.Equal(t, "key_findings,introduction,conclusion", out.Data["order"])
	assert.Equal(t, []string{"too short"}, out.Annotations)

	out, err = Formatter{}.Execute(context.Background(), inputs, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.Content, "# Untitled\n\n## Introduction"))

	_, err = Formatter{}.Execute(context.Background(), inputs, models.Params{"order": "appendix"})
	assert.True(t, graph.IsPermanent(err))
}

func TestValidator(t *testing.T) {
	inputs := map[string]models.Output{
		"a": content("one two three four five"),
		"b": content("six seven"),
	}

	out, err := Validator{}.Execute(context.Background(), inputs, models.Params{"min_words": "2"})
	require.NoError(t, err)
	assert.Equal(t, models.OutputVerdict, out.Kind)
	require.NotNil(t, out.Passed)
	assert.True(t, *out.Passed)
	assert.Equal(t, "a,b", out.Data["reviewed"])

	out, err = Validator{}.Execute(context.Background(), inputs,
		models.Params{"min_words": "3", "require": "Seven, eight", "forbid": "five"})
	require.NoError(t, err)
	assert.False(t, *out.Passed)
	assert.Equal(t, []string{
		"b: 2 words, need at least 3",
		`missing required phrase "eight"`,
		`contains forbidden phrase "five"`,
	}, out.Annotations)

	out, err = Validator{}.Execute(context.Background(), map[string]models.Output{"x": models.MissingOutput("x")}, nil)
	require.NoError(t, err)
	assert.False(t, *out.Passed)

	_, err = Validator{}.Execute(context.Background(), inputs, models.Params{"min_words": "many"})
	assert.True(t, graph.IsPermanent(err))
}

func TestAssembler_WritesArtifact(t *testing.T) {
	dir := t.TempDir()
	a := NewAssembler(dir)

	out, err := a.Execute(context.Background(),
		map[string]models.Output{
			"layout": {Kind: models.OutputLayout, Content: "# Doc\n"},
			"body":   content("ignored when a layout exists"),
			"review": models.Verdict(true),
		},
		models.Params{models.ParamRequestID: "req-1", "filename": "report"})
	require.NoError(t, err)

	assert.Equal(t, models.OutputArtifact, out.Kind)
	path := filepath.Join(dir, "req-1", "report.md")
	assert.Equal(t, path, out.Data["path"])
	assert.Equal(t, "6", out.Data["bytes"])
	assert.Len(t, out.Data["sha256"], 64)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Doc\n", string(data))
}

func TestAssembler_JoinsContentWithoutLayout(t *testing.T) {
	out, err := NewAssembler("").Execute(context.Background(),
		map[string]models.Output{"b": content("second"), "a": content("first")},
		models.Params{"order": "b,a"})
	require.NoError(t, err)
	assert.Equal(t, "second\n\nfirst\n", out.Content)
	assert.NotContains(t, out.Data, "path")
}

func TestAssembler_Rejections(t *testing.T) {
	failed := map[string]models.Output{"a": content("x"), "review": models.Verdict(false, "bad tone")}

	_, err := NewAssembler("").Execute(context.Background(), failed, nil)
	require.Error(t, err)
	assert.True(t, graph.IsPermanent(err))
	assert.Contains(t, err.Error(), "bad tone")

	_, err = NewAssembler("").Execute(context.Background(), failed, models.Params{"require_pass": "false"})
	assert.NoError(t, err)

	_, err = NewAssembler("").Execute(context.Background(), map[string]models.Output{}, nil)
	assert.True(t, graph.IsPermanent(err))

	_, err = NewAssembler(t.TempDir()).Execute(context.Background(),
		map[string]models.Output{"a": content("x")},
		models.Params{models.ParamRequestID: "req-1", "filename": "../escape"})
	assert.True(t, graph.IsPermanent(err))
}
