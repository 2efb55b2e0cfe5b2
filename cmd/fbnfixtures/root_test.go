package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/fbnconform/artifacts"
	"github.com/tsawler/fbnconform/fixtures"
	"github.com/tsawler/fbnconform/notice"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func freezeClock(t *testing.T, now time.Time) {
	t.Helper()
	saved := notice.Clock
	notice.Clock = func() time.Time { return now }
	t.Cleanup(func() { notice.Clock = saved })
}

func TestListCommand(t *testing.T) {
	out, err := execute(t, "list")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 7)
	assert.Contains(t, lines[0], fixtures.BasicCases()[0].ID())
	assert.Contains(t, lines[0], "xfail=97191")
	assert.Contains(t, lines[0], "channels=5")
	assert.Contains(t, lines[6], "xfail=-")

	out, err = execute(t, "list", "--include-xfail=false")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 3)
}

func TestVersionCommand(t *testing.T) {
	freezeClock(t, time.Date(2023, time.April, 1, 0, 0, 0, 0, time.UTC))
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "fbnfixtures 1.0.0\n"))
	assert.Contains(t, out, notice.API20Message())
	assert.NotContains(t, out, "Check for a new version")
}

func TestGenerateCommand(t *testing.T) {
	freezeClock(t, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fbnfixtures.yaml"), []byte("formats: [json, onnx]\nworkers: 2\n"), 0o644))

	out, err := execute(t, "generate", "--workdir", dir, "--out", "gen", "--seed", "3", "--precision", "FP32,FP16")
	require.NoError(t, err)

	assert.Contains(t, out, "6 tasks: 6 passed, 0 failed, 0 xfailed, 0 xpassed")
	assert.Contains(t, out, "(seed 3)")
	assert.Contains(t, out, notice.API20Message())
	assert.Contains(t, out, "Check for a new version")

	entries, err := os.ReadDir(filepath.Join(dir, "gen"))
	require.NoError(t, err)
	assert.Len(t, entries, 12)

	tc := fixtures.BasicCases()[5]
	f, err := artifacts.Load(filepath.Join(dir, "gen", tc.ID()+"_CPU_FP32.json"))
	require.NoError(t, err)
	assert.Equal(t, 11, f.Metadata.IRVersion)
}

func TestGenerateOldAPISuppressesAPI20Notice(t *testing.T) {
	freezeClock(t, time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC))
	dir := t.TempDir()

	out, err := execute(t, "generate", "--workdir", dir, "--seed", "1", "--use-old-api")
	require.NoError(t, err)
	assert.NotContains(t, out, "[ INFO ]")
	assert.NotContains(t, out, "Check for a new version")
}

func TestGenerateConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "generate", "--workdir", dir, "--config", "missing.yaml")
	assert.Error(t, err)

	_, err = execute(t, "generate", "--workdir", dir, "--format", "xml")
	assert.Error(t, err)
}

func TestInspectCommand(t *testing.T) {
	freezeClock(t, time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC))
	dir := t.TempDir()
	_, err := execute(t, "generate", "--workdir", dir, "--out", "gen", "--seed", "9", "--format", "json,onnx")
	require.NoError(t, err)

	tc := fixtures.BasicCases()[6]
	base := filepath.Join(dir, "gen", tc.ID()+"_CPU_FP32")

	out, err := execute(t, "inspect", base+".json", base+".onnx", "--node", fixtures.NodeFusedBatchNorm)
	require.NoError(t, err)
	assert.Contains(t, out, "ok "+tc.ID()+"_CPU_FP32 seed=")
	assert.Contains(t, out, "graph="+tc.ID())
	assert.Contains(t, out, "ops=Add,Add,BatchNormalization,Identity,Identity,Identity")
	assert.Contains(t, out, "training_mode = 0")

	out, err = execute(t, "inspect", base+".onnx", "--node", "missing")
	assert.ErrorIs(t, err, errInspectFailed)
	assert.Contains(t, out, errNodeNotFound.Error())

	f, err := artifacts.Load(base + ".json")
	require.NoError(t, err)
	f.Expected[2].Data[0] += 10
	tampered := filepath.Join(dir, "tampered.json")
	data, err := json.Marshal(f)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(tampered, data, 0o644))

	out, err = execute(t, "inspect", tampered, filepath.Join(dir, "notes.txt"))
	assert.ErrorIs(t, err, errInspectFailed)
	assert.Contains(t, out, "FAILED "+tampered)
	assert.Contains(t, out, "outside tolerance")
	assert.Contains(t, out, "unknown artifact format")
	assert.Contains(t, out, "2 of 2")
}
