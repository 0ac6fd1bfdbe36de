package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/docweave/internal/graph"
	"github.com/ShayCichocki/docweave/pkg/models"
)

func quietLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

const diamondYAML = `
name: diamond
description: four node diamond
tasks:
  - name: A
    executor: static
    capability: content-author
  - name: B
    executor: static
    capability: content-author
    depends_on: [A]
    timeout: 2s
    max_retries: 3
  - name: C
    executor: static
    capability: content-author
    depends_on: [A]
  - name: D
    executor: assembler
    capability: assembler
    depends_on: [B, C]
`

const diamondTOML = `
name = "diamond-toml"

[[tasks]]
name = "A"
executor = "static"
capability = "content-author"

[[tasks]]
name = "B"
executor = "static"
capability = "content-author"
depends_on = ["A"]

[[tasks]]
name = "C"
executor = "static"
capability = "validator-readonly"
optional = ["A"]

[[tasks]]
name = "D"
executor = "assembler"
capability = "assembler"
depends_on = ["B", "C"]
`

const cyclicYAML = `
name: cyclic
tasks:
  - name: A
    executor: static
    capability: content-author
    depends_on: [B]
  - name: B
    executor: static
    capability: content-author
    depends_on: [A]
  - name: Z
    executor: assembler
    capability: assembler
    depends_on: [B]
`

func TestParse_YAML(t *testing.T) {
	rt, err := Parse("diamond.yaml", []byte(diamondYAML))
	require.NoError(t, err)

	assert.Equal(t, "diamond", rt.Name)
	require.Len(t, rt.Tasks, 4)
	assert.Equal(t, models.CapabilityAssembler, rt.Tasks[3].Capability)
	require.NotNil(t, rt.Tasks[1].MaxRetries)
	assert.Equal(t, 3, *rt.Tasks[1].MaxRetries)

	timeout, err := rt.Tasks[1].ParseTimeout()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, timeout)
	assert.NoError(t, rt.Validate())
}

func TestParse_TOML(t *testing.T) {
	rt, err := Parse("diamond.toml", []byte(diamondTOML))
	require.NoError(t, err)

	assert.Equal(t, "diamond-toml", rt.Name)
	require.Len(t, rt.Tasks, 4)
	assert.Equal(t, []string{"A"}, rt.Tasks[2].Optional)

	nodes, err := rt.Skeleton()
	require.NoError(t, err)
	require.Len(t, nodes[2].Deps, 1)
	assert.True(t, nodes[2].Deps[0].Optional)
	assert.NoError(t, rt.Validate())
}

func TestParse_UnsupportedExtension(t *testing.T) {
	_, err := Parse("diamond.json", []byte(`{}`))
	assert.Error(t, err)
}

func TestRegisterType_RejectsCycle(t *testing.T) {
	r := New(quietLogger())
	rt, err := Parse("cyclic.yaml", []byte(cyclicYAML))
	require.NoError(t, err)

	err = r.RegisterType(rt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, graph.ErrInvalidGraph))

	_, ok := r.Type("cyclic")
	assert.False(t, ok, "invalid type must not be registered")
}

const partialAssemblyYAML = `
name: partial
tasks:
  - name: body
    executor: static
    capability: content-author
  - name: section
    executor: static
    capability: content-author
  - name: out
    executor: assembler
    capability: assembler
    depends_on: [body]
    optional: [section]
`

func TestRegisterType_RejectsOptionalAssemblerInput(t *testing.T) {
	r := New(quietLogger())
	rt, err := Parse("partial.yaml", []byte(partialAssemblyYAML))
	require.NoError(t, err)

	err = r.RegisterType(rt)
	var ige *graph.InvalidGraphError
	require.True(t, errors.As(err, &ige))
	assert.Equal(t, graph.ReasonInvalidNode, ige.Reason)
	assert.Equal(t, "out", ige.Node)

	_, ok := r.Type("partial")
	assert.False(t, ok)
}

func TestRegisterType_MissingExecutor(t *testing.T) {
	r := New(quietLogger())
	err := r.RegisterType(RequestType{
		Name:  "x",
		Tasks: []TaskDefinition{{Name: "only", Capability: models.CapabilityAssembler}},
	})
	assert.Error(t, err)
}

func TestRegisterExecutor(t *testing.T) {
	r := New(quietLogger())
	exec := graph.ExecutorFunc(func(context.Context, map[string]models.Output, models.Params) (models.Output, error) {
		return models.Output{Kind: models.OutputContent}, nil
	})

	assert.Error(t, r.RegisterExecutor("", exec))
	assert.Error(t, r.RegisterExecutor("nil", nil))
	require.NoError(t, r.RegisterExecutor("static", exec))
	require.NoError(t, r.RegisterExecutor("assembler", exec))

	_, ok := r.Executor("static")
	assert.True(t, ok)
	_, ok = r.Executor("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"assembler", "static"}, r.ExecutorNames())
}

func TestLoadBuiltin(t *testing.T) {
	r := New(quietLogger())
	require.NoError(t, r.LoadBuiltin())

	types := r.Types()
	require.Len(t, types, 2)
	assert.Equal(t, "brief", types[0].Name)
	assert.Equal(t, "report", types[1].Name)

	report, ok := r.Type("report")
	require.True(t, ok)
	assert.Equal(t, "builtin", report.Source)

	nodes, err := report.Skeleton()
	require.NoError(t, err)
	g, err := graph.Build(report.Name, nodes)
	require.NoError(t, err)
	assert.Equal(t, "assemble", g.Terminal())
}

func TestLoadDir_SkipsInvalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "diamond.yaml"), []byte(diamondYAML), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "diamond.toml"), []byte(diamondTOML), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cyclic.yml"), []byte(cyclicYAML), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	r := New(quietLogger())
	n, err := r.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rt, ok := r.Type("diamond")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "diamond.yaml"), rt.Source)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	r := New(quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loaded := make(chan RequestType, 4)
	require.NoError(t, r.Watch(ctx, dir, func(rt RequestType) { loaded <- rt }))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "diamond.yaml"), []byte(diamondYAML), 0644))

	select {
	case rt := <-loaded:
		assert.Equal(t, "diamond", rt.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	_, ok := r.Type("diamond")
	assert.True(t, ok)
}
