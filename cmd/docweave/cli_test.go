package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/docweave/pkg/models"
)

// isolate points every config, state and artifact path at a temp dir and
// selects the offline generator.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("DOCWEAVE_GENERATOR_PROVIDER", "static")
	t.Setenv("DOCWEAVE_ARTIFACTS_DIR", filepath.Join(dir, "artifacts"))
	t.Setenv("DOCWEAVE_LOG_LEVEL", "error")
	t.Chdir(dir)
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestParseParams(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    models.Params
		wantErr bool
	}{
		{name: "empty", pairs: nil, want: models.Params{}},
		{name: "simple", pairs: []string{"topic=tides", "audience=students"}, want: models.Params{"topic": "tides", "audience": "students"}},
		{name: "value with equals", pairs: []string{"query=a=b"}, want: models.Params{"query": "a=b"}},
		{name: "empty value", pairs: []string{"note="}, want: models.Params{"note": ""}},
		{name: "trims key", pairs: []string{" topic =x"}, want: models.Params{"topic": "x"}},
		{name: "missing equals", pairs: []string{"topic"}, wantErr: true},
		{name: "missing key", pairs: []string{"=x"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseParams(tt.pairs)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

var requestLine = regexp.MustCompile(`Request:\s+(\S+)`)

func TestRunStatusList(t *testing.T) {
	dir := isolate(t)

	out, err := execute(t, "run", "report", "-p", "topic=Ocean tides", "-p", "audience=students")
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ outline")
	assert.Contains(t, out, "succeeded")

	m := requestLine.FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	id := m[1]

	doc := filepath.Join(dir, "artifacts", id, "report.md")
	content, err := os.ReadFile(doc)
	require.NoError(t, err)
	assert.Contains(t, string(content), "# Ocean tides")

	out, err = execute(t, "status", "--json", id)
	require.NoError(t, err, out)
	var st models.RequestStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, models.RequestStateSucceeded, st.State)
	assert.Equal(t, "report", st.Type)
	assert.Len(t, st.Tasks, 7)

	out, err = execute(t, "list", "--state", "succeeded")
	require.NoError(t, err, out)
	assert.Contains(t, out, id)

	_, err = execute(t, "resume", id)
	assert.Error(t, err, "succeeded requests are not resumable")
}

func TestRunUnknownType(t *testing.T) {
	isolate(t)

	_, err := execute(t, "run", "no-such-type")
	assert.Error(t, err)
}

func TestTypesAndGraph(t *testing.T) {
	isolate(t)

	out, err := execute(t, "types")
	require.NoError(t, err, out)
	assert.Contains(t, out, "report")
	assert.Contains(t, out, "brief")

	out, err = execute(t, "graph", "report", "-p", "topic=x", "-p", "audience=y")
	require.NoError(t, err, out)
	assert.Regexp(t, `(?s)outline.*introduction.*layout.*assemble`, out)
	assert.Contains(t, out, "review?")
}

func TestConfigAndVersion(t *testing.T) {
	isolate(t)

	out, err := execute(t, "config", "path")
	require.NoError(t, err, out)
	assert.Contains(t, out, filepath.Join("docweave", "config.yaml"))

	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.Regexp(t, `^docweave version \d+\.\d+\.\d+`, out)
}

func TestConfigInitAndSet(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config", "docweave", "config.yaml")

	out, err := execute(t, "config", "init")
	require.NoError(t, err, out)
	assert.FileExists(t, path)

	_, err = execute(t, "config", "init")
	assert.Error(t, err, "refuses to overwrite")

	out, err = execute(t, "config", "set", "engine.max_concurrency", "9")
	require.NoError(t, err, out)

	out, err = execute(t, "config", "get", "engine.max_concurrency")
	require.NoError(t, err, out)
	assert.Equal(t, "9\n", out)

	_, err = execute(t, "config", "set", "no.such_key", "1")
	assert.Error(t, err)
}
