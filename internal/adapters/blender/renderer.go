// Package blender renders STL preview shots through headless Blender. Render
// failure is reported as data, not as an error: a job without previews is
// degraded, not dead.
package blender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hexforge/reliefd/internal/core/domain"
)

const (
	// outputTailLimit bounds how much captured subprocess output is kept.
	// Blender is chatty; the tail is where the actual error lives.
	outputTailLimit = 4000

	// timeoutReturnCode mimics the exit code of timeout(1) so a killed
	// render is distinguishable from a crashed one.
	timeoutReturnCode = 124

	previewsBasename = "previews"
)

// Renderer invokes bin with script against one STL per call.
type Renderer struct {
	bin     string
	script  string
	timeout time.Duration
	logger  *slog.Logger
}

func New(bin, script string, timeout time.Duration, logger *slog.Logger) *Renderer {
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &Renderer{bin: bin, script: script, timeout: timeout, logger: logger}
}

// Render runs the headless render and normalizes whatever happened into a
// RenderResult. The error return is reserved for not even being able to set
// the run up.
func (r *Renderer) Render(ctx context.Context, stlPath, outDir string, imageSize int) (domain.RenderResult, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return domain.RenderResult{}, fmt.Errorf("failed to create preview dir %s: %w", outDir, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := []string{
		"-b", "--factory-startup",
		"--python", r.script,
		"--",
		"--stl", stlPath,
		"--outdir", outDir,
		"--basename", previewsBasename,
		"--size", strconv.Itoa(imageSize),
	}
	r.logger.Info("running preview render", "stl", stlPath, "out_dir", outDir)

	cmd := exec.CommandContext(ctx, r.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := domain.RenderResult{
		OutDir:     outDir,
		StdoutTail: tail(stdout.String()),
		StderrTail: tail(stderr.String()),
		Files:      map[string]string{},
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.ReturnCode = timeoutReturnCode
		result.Err = fmt.Sprintf("blender timeout after %ds", int(r.timeout.Seconds()))
	case err == nil:
		result.ReturnCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ReturnCode = exitErr.ExitCode()
		} else {
			result.ReturnCode = -1
			result.Err = err.Error()
		}
	}

	// The script's own manifest is the authoritative file list; a filename
	// scan recovers shots when the manifest went missing.
	manifestPath := filepath.Join(outDir, previewsBasename+".json")
	manifestOK := r.loadManifest(manifestPath, &result)
	if !manifestOK {
		r.scanShots(outDir, &result)
	}

	result.OK = result.ReturnCode == 0 && manifestOK

	r.logger.Info("preview render finished",
		"ok", result.OK, "returncode", result.ReturnCode, "files", len(result.Files))
	return result, nil
}

// loadManifest reads the script-written previews manifest, resolving relative
// paths against outDir and keeping only files that exist.
func (r *Renderer) loadManifest(path string, result *domain.RenderResult) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}

	var manifest struct {
		Files map[string]string `json:"files"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		r.logger.Warn("unreadable previews manifest", "path", path, "error", err)
		return false
	}

	result.ManifestPath = path
	for shot, p := range manifest.Files {
		if !filepath.IsAbs(p) {
			p = filepath.Join(result.OutDir, p)
		}
		if _, err := os.Stat(p); err == nil {
			result.Files[shot] = p
		}
	}
	return true
}

// scanShots looks for the conventional per-shot filenames directly.
func (r *Renderer) scanShots(outDir string, result *domain.RenderResult) {
	for _, shot := range domain.PreviewShots {
		p := filepath.Join(outDir, previewsBasename+"__"+shot+".png")
		if _, err := os.Stat(p); err == nil {
			result.Files[shot] = p
		}
	}
}

func tail(s string) string {
	if len(s) <= outputTailLimit {
		return s
	}
	return s[len(s)-outputTailLimit:]
}
