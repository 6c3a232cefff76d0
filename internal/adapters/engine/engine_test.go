package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexforge/reliefd/internal/core/domain"
)

// fakeInterpreter writes an executable standing in for the engine's venv
// python. It parses -o from the argument list and runs body.
func fakeInterpreter(t *testing.T, dir, body string) string {
	t.Helper()
	script := `#!/bin/sh
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-o" ]; then out="$a"; fi
  prev="$a"
done
` + body
	path := filepath.Join(dir, "python")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestEngine(t *testing.T, body string) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	python := fakeInterpreter(t, dir, body)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	return New(dir, python, "hexforge3d@v1", logger), dir
}

func sourceImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wall.png")
	require.NoError(t, os.WriteFile(path, []byte("graydata"), 0o644))
	return path
}

func TestEngine_Generate(t *testing.T) {
	eng, dir := newTestEngine(t, `echo output > "$out"`)

	raw := map[string]any{
		"size_mm":   "100",
		"invert":    "false",
		"sharpness": "3", // unknown, must be dropped
	}
	result, err := eng.Generate(context.Background(), sourceImage(t), "Castle Wall", raw)
	require.NoError(t, err)

	assert.FileExists(t, result.HeightmapPath)
	assert.FileExists(t, result.STLPath)
	assert.FileExists(t, result.ManifestPath)

	assert.Equal(t, 100.0, result.Params.SizeMM)
	assert.False(t, result.Params.Invert)
	assert.Equal(t, []string{"sharpness"}, result.DroppedParams)

	// Source image staged into the engine inputs under the slug.
	assert.FileExists(t, filepath.Join(dir, "inputs", "Castle_Wall.png"))

	var manifest domain.EngineManifest
	data, err := os.ReadFile(result.ManifestPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &manifest))

	assert.Equal(t, domain.EngineManifestSchema, manifest.Schema)
	assert.Equal(t, "hexforge3d@v1", manifest.EngineVersion)
	assert.Equal(t, "Castle Wall", manifest.Name)
	assert.Equal(t, [3]float64{100, 100, 6}, manifest.DimensionsMM)
	assert.Equal(t, []string{"sharpness"}, manifest.DroppedParams)
	assert.Equal(t, result.HeightmapPath, manifest.Outputs.Heightmap)
}

func TestEngine_CommandFailureCapturesOutput(t *testing.T) {
	eng, _ := newTestEngine(t, `
echo "processing image"
echo "ValueError: image is empty" >&2
exit 2
`)

	_, err := eng.Generate(context.Background(), sourceImage(t), "bad", nil)
	require.Error(t, err)

	var cmdErr *domain.EngineCommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 2, cmdErr.ExitCode)
	assert.Contains(t, cmdErr.Stdout, "processing image")
	assert.Contains(t, cmdErr.Stderr, "ValueError: image is empty")
	assert.Contains(t, cmdErr.Error(), "STDERR:")
}

func TestEngine_InvalidParamsRejectedBeforeRun(t *testing.T) {
	// An interpreter that would fail loudly if ever invoked.
	eng, _ := newTestEngine(t, `exit 99`)

	_, err := eng.Generate(context.Background(), sourceImage(t), "x", map[string]any{
		"size_mm": "not-a-number",
	})
	require.Error(t, err)

	var cmdErr *domain.EngineCommandError
	assert.False(t, errors.As(err, &cmdErr), "validation failure must not reach the subprocess")
}

func TestEngine_Ready(t *testing.T) {
	eng, _ := newTestEngine(t, `echo ok > "$out"`)
	assert.NoError(t, eng.Ready(context.Background()))
}

func TestEngine_ReadyMissingInterpreter(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	eng := New(t.TempDir(), "/nonexistent/python", "hexforge3d@v1", logger)

	err := eng.Ready(context.Background())
	require.Error(t, err)

	var re *domain.ReadinessError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, domain.CodeEngineNotReady, re.Code)
}

func TestEngine_ReadyNonExecutableInterpreter(t *testing.T) {
	dir := t.TempDir()
	python := filepath.Join(dir, "python")
	require.NoError(t, os.WriteFile(python, []byte("#!/bin/sh\n"), 0o644))

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	eng := New(dir, python, "hexforge3d@v1", logger)

	var re *domain.ReadinessError
	err := eng.Ready(context.Background())
	require.True(t, errors.As(err, &re))
	assert.Equal(t, domain.CodeEngineNotReady, re.Code)
}
