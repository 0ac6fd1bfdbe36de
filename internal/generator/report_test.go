package generator

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/docweave/internal/decompose"
	"github.com/ShayCichocki/docweave/internal/orchestrator"
	"github.com/ShayCichocki/docweave/internal/registry"
	"github.com/ShayCichocki/docweave/pkg/models"
)

func builtinEngine(t *testing.T, artifacts string) *orchestrator.Engine {
	t.Helper()
	log, _ := test.NewNullLogger()

	reg := registry.New(log)
	require.NoError(t, reg.LoadBuiltin())
	require.NoError(t, Register(reg, StaticCompleter{}, artifacts))

	e := orchestrator.New(decompose.New(reg, decompose.WithLogger(log)), nil, orchestrator.WithLogger(log))
	go func() {
		for range e.Events() {
		}
	}()
	t.Cleanup(func() { _ = e.Stop() })
	return e
}

func TestRegister(t *testing.T) {
	log, _ := test.NewNullLogger()
	reg := registry.New(log)
	require.NoError(t, Register(reg, StaticCompleter{}, ""))
	assert.Equal(t, []string{"assembler", "author", "claude", "formatter", "static", "validator"}, reg.ExecutorNames())
}

func TestBuiltinReportEndToEnd(t *testing.T) {
	dir := t.TempDir()
	e := builtinEngine(t, dir)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := e.Execute(ctx, "report", models.Params{"topic": "Ocean tides", "audience": "students"})
	require.NoError(t, err)
	require.Equal(t, models.RequestStateSucceeded, st.State, "failure: %+v", st.Failure)

	for _, name := range st.Order {
		assert.Equal(t, models.TaskStateSucceeded, st.Tasks[name].State, name)
	}
	require.NotNil(t, st.Result)
	assert.Equal(t, models.OutputArtifact, st.Result.Kind)
	assert.True(t, strings.HasPrefix(st.Result.Content, "# Ocean tides\n"))
	assert.Contains(t, st.Result.Content, "## Introduction")
	assert.Contains(t, st.Result.Content, "## Conclusion")

	data, err := os.ReadFile(st.Result.Data["path"])
	require.NoError(t, err)
	assert.Equal(t, st.Result.Content, string(data))
}

func TestBuiltinBriefEndToEnd(t *testing.T) {
	e := builtinEngine(t, "")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := e.Execute(ctx, "brief", models.Params{"topic": "Solar power"})
	require.NoError(t, err)
	require.Equal(t, models.RequestStateSucceeded, st.State)
	assert.Contains(t, st.Result.Content, "Solar power")
}
