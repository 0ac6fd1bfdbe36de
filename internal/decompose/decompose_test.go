package decompose

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/docweave/internal/graph"
	"github.com/ShayCichocki/docweave/internal/registry"
	"github.com/ShayCichocki/docweave/pkg/models"
)

func noop(context.Context, map[string]models.Output, models.Params) (models.Output, error) {
	return models.Output{Kind: models.OutputContent}, nil
}

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	log, _ := test.NewNullLogger()
	reg := registry.New(log)
	for _, name := range []string{"author", "validator", "formatter", "assembler"} {
		require.NoError(t, reg.RegisterExecutor(name, graph.ExecutorFunc(noop)))
	}
	require.NoError(t, reg.LoadBuiltin())
	return reg
}

func intPtr(n int) *int { return &n }

func TestDecompose_Builtin(t *testing.T) {
	d := New(newRegistry(t), WithDefaultTimeout(time.Minute), WithDefaultMaxRetries(4))

	g, err := d.Decompose("report", models.Params{"topic": "tides", "audience": "students"})
	require.NoError(t, err)

	assert.Equal(t, "assemble", g.Terminal())
	assert.Equal(t, []string{"outline", "introduction", "body", "conclusion", "review", "layout", "assemble"}, g.Names())

	outline, ok := g.Node("outline")
	require.True(t, ok)
	assert.Equal(t, "Write a numbered outline for a report about tides aimed at students.", outline.Params["prompt"])
	assert.Equal(t, "tides", outline.Params["topic"])
	assert.Equal(t, time.Minute, outline.Timeout)
	assert.Equal(t, 4, outline.MaxRetries)
	assert.NotNil(t, outline.Executor)

	body, _ := g.Node("body")
	assert.Equal(t, 5*time.Minute, body.Timeout)

	review, _ := g.Node("review")
	assert.Equal(t, 0, review.MaxRetries, "declared zero retries must not be replaced by the default")

	layout, _ := g.Node("layout")
	var optional []string
	for _, dep := range layout.Deps {
		if dep.Optional {
			optional = append(optional, dep.Name)
		}
	}
	assert.Equal(t, []string{"review"}, optional)
}

func TestDecompose_Deterministic(t *testing.T) {
	d := New(newRegistry(t))

	g1, err := d.Decompose("report", models.Params{"topic": "a"})
	require.NoError(t, err)
	g2, err := d.Decompose("report", models.Params{"topic": "b"})
	require.NoError(t, err)

	assert.Equal(t, g1.Names(), g2.Names())
	assert.Equal(t, g1.Edges(), g2.Edges())
	assert.Equal(t, g1.TopologicalOrder(), g2.TopologicalOrder())

	n1, _ := g1.Node("layout")
	n2, _ := g2.Node("layout")
	assert.NotEqual(t, n1.Params["title"], n2.Params["title"])
}

func TestDecompose_UnknownRequestType(t *testing.T) {
	d := New(newRegistry(t))

	g, err := d.Decompose("novel", nil)
	assert.Nil(t, g)
	require.True(t, errors.Is(err, graph.ErrInvalidGraph))

	var ige *graph.InvalidGraphError
	require.True(t, errors.As(err, &ige))
	assert.Equal(t, graph.ReasonUnknownRequestType, ige.Reason)
}

func TestDecompose_UnknownExecutor(t *testing.T) {
	reg := newRegistry(t)
	require.NoError(t, reg.RegisterType(registry.RequestType{
		Name: "orphan",
		Tasks: []registry.TaskDefinition{
			{Name: "draft", Executor: "ghostwriter", Capability: models.CapabilityContentAuthor},
			{Name: "assemble", Executor: "assembler", Capability: models.CapabilityAssembler, DependsOn: []string{"draft"}},
		},
	}))

	_, err := New(reg).Decompose("orphan", nil)
	var ige *graph.InvalidGraphError
	require.True(t, errors.As(err, &ige))
	assert.Equal(t, graph.ReasonUnknownExecutor, ige.Reason)
	assert.Equal(t, "draft", ige.Node)
}

func TestDecompose_DeclaredRetries(t *testing.T) {
	reg := newRegistry(t)
	require.NoError(t, reg.RegisterType(registry.RequestType{
		Name: "pair",
		Tasks: []registry.TaskDefinition{
			{Name: "draft", Executor: "author", Capability: models.CapabilityContentAuthor, MaxRetries: intPtr(7), Timeout: "3s"},
			{Name: "assemble", Executor: "assembler", Capability: models.CapabilityAssembler, DependsOn: []string{"draft"}},
		},
	}))

	g, err := New(reg, WithDefaultMaxRetries(1)).Decompose("pair", nil)
	require.NoError(t, err)

	draft, _ := g.Node("draft")
	assert.Equal(t, 7, draft.MaxRetries)
	assert.Equal(t, 3*time.Second, draft.Timeout)

	assemble, _ := g.Node("assemble")
	assert.Equal(t, 1, assemble.MaxRetries)
}

func TestBindParams(t *testing.T) {
	tests := []struct {
		name    string
		task    models.Params
		request models.Params
		want    models.Params
	}{
		{
			name:    "substitutes known keys",
			task:    models.Params{"prompt": "About {{topic}} for {{ audience }}"},
			request: models.Params{"topic": "rain", "audience": "kids"},
			want:    models.Params{"prompt": "About rain for kids", "topic": "rain", "audience": "kids"},
		},
		{
			name:    "keeps unknown placeholders",
			task:    models.Params{"prompt": "About {{topic}}"},
			request: nil,
			want:    models.Params{"prompt": "About {{topic}}"},
		},
		{
			name:    "task value wins",
			task:    models.Params{"topic": "fixed"},
			request: models.Params{"topic": "caller"},
			want:    models.Params{"topic": "fixed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BindParams(tt.task, tt.request))
		})
	}
}
