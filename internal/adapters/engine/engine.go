// Package engine drives the external hexforge3d geometry toolchain: a Python
// pair of commands turning a grayscale image into a heightmap and a relief
// STL. The toolchain lives in its own venv and is invoked per job.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hexforge/reliefd/internal/core/domain"
	"github.com/hexforge/reliefd/internal/core/services"
)

// Pixel caps passed to the external commands. The heightmap keeps more detail
// than the mesh; STL size grows quadratically with resolution.
const (
	heightmapMaxPx = 1024
	stlMaxPx       = 512
)

// Engine shells out to the hexforge3d commands under dir, using the venv
// interpreter at python.
type Engine struct {
	dir     string
	python  string
	version string
	schema  domain.ParamSchema
	logger  *slog.Logger
}

func New(dir, python, version string, logger *slog.Logger) *Engine {
	return &Engine{
		dir:     dir,
		python:  python,
		version: version,
		schema:  domain.ParamSchemaV1,
		logger:  logger,
	}
}

func (e *Engine) inputsDir() string  { return filepath.Join(e.dir, "inputs") }
func (e *Engine) outputsDir() string { return filepath.Join(e.dir, "outputs") }

// Ready checks the prerequisites a job would hit immediately: the venv
// interpreter and a writable output root. Run before creating a job so a
// broken host rejects requests instead of minting failed records.
func (e *Engine) Ready(ctx context.Context) error {
	info, err := os.Stat(e.python)
	if err != nil || info.IsDir() || info.Mode()&0o111 == 0 {
		return &domain.ReadinessError{
			Code:    domain.CodeEngineNotReady,
			Message: fmt.Sprintf("engine interpreter not executable: %s", e.python),
		}
	}

	if err := os.MkdirAll(e.outputsDir(), 0o755); err != nil {
		return &domain.ReadinessError{
			Code:    domain.CodeOutputNotWritable,
			Message: fmt.Sprintf("cannot create engine output dir: %v", err),
		}
	}
	probe := filepath.Join(e.outputsDir(), ".write_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return &domain.ReadinessError{
			Code:    domain.CodeOutputNotWritable,
			Message: fmt.Sprintf("engine output dir not writable: %v", err),
		}
	}
	os.Remove(probe)
	return nil
}

// Generate runs both commands and writes the engine manifest. Unknown raw
// parameters are dropped through the versioned schema and reported back;
// invalid values for known keys fail the call.
func (e *Engine) Generate(ctx context.Context, imagePath, name string, raw map[string]any) (*domain.GenerateResult, error) {
	kept, dropped := e.schema.Filter(raw)
	params, err := domain.ReliefParamsFrom(kept)
	if err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	if len(dropped) > 0 {
		e.logger.Warn("dropping unknown engine parameters", "dropped", dropped, "schema", e.schema.Version)
	}

	slug := services.Slugify(name)
	if err := os.MkdirAll(e.inputsDir(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create engine inputs dir: %w", err)
	}
	imageCopy := filepath.Join(e.inputsDir(), slug+".png")
	if err := copyFile(imagePath, imageCopy); err != nil {
		return nil, fmt.Errorf("failed to stage source image: %w", err)
	}

	heightmapPath := filepath.Join(e.outputsDir(), slug+"__heightmap.png")
	stlPath := filepath.Join(e.outputsDir(), slug+"__relief.stl")
	manifestPath := filepath.Join(e.outputsDir(), slug+"__manifest.json")

	hmArgs := []string{
		filepath.Join(e.dir, "bin", "gray2heightmap.py"),
		imageCopy,
		"-o", heightmapPath,
		"--max-px", strconv.Itoa(heightmapMaxPx),
		"--autocontrast",
	}
	if err := e.run(ctx, hmArgs); err != nil {
		return nil, err
	}

	stlArgs := []string{
		filepath.Join(e.dir, "bin", "gray2stl.py"),
		heightmapPath,
		"-o", stlPath,
		"--size-mm", fmt.Sprintf("%g,%g", params.SizeMM, params.SizeMM),
		"--thickness", fmt.Sprintf("%g", params.Thickness),
		"--relief", fmt.Sprintf("%g", params.Relief),
		"--max-px", strconv.Itoa(stlMaxPx),
	}
	if params.Invert {
		stlArgs = append(stlArgs, "--invert")
	}
	if err := e.run(ctx, stlArgs); err != nil {
		return nil, err
	}

	manifest := domain.EngineManifest{
		Schema:        domain.EngineManifestSchema,
		EngineVersion: e.version,
		CreatedUTC:    time.Now().UTC().Truncate(time.Second).Format(time.RFC3339),
		Mode:          params.Mode,
		Name:          name,
		Params:        params,
		DimensionsMM:  params.DimensionsMM(),
		Inputs: domain.EngineManifestInputs{
			SourceImage:     imagePath,
			EngineImageCopy: imageCopy,
		},
		Outputs: domain.EngineManifestOutputs{
			Heightmap: heightmapPath,
			STL:       stlPath,
			Basenames: map[string]string{
				"heightmap": filepath.Base(heightmapPath),
				"stl":       filepath.Base(stlPath),
			},
		},
		DroppedParams: dropped,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode engine manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath, append(data, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write engine manifest: %w", err)
	}

	return &domain.GenerateResult{
		HeightmapPath: heightmapPath,
		STLPath:       stlPath,
		ManifestPath:  manifestPath,
		Params:        params,
		DroppedParams: dropped,
	}, nil
}

// run executes one command under the venv interpreter, capturing full output.
// Nonzero exit surfaces as *domain.EngineCommandError with nothing truncated.
func (e *Engine) run(ctx context.Context, args []string) error {
	cmdline := append([]string{e.python}, args...)
	e.logger.Info("running engine command", "cmd", cmdline)

	cmd := exec.CommandContext(ctx, e.python, args...)
	cmd.Dir = e.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return &domain.EngineCommandError{
			Cmd:      cmdline,
			ExitCode: exitCode,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
