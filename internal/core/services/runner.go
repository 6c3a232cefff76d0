package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hexforge/reliefd/internal/core/domain"
	"github.com/hexforge/reliefd/internal/core/ports"
)

// Preview status values recorded on the job result.
const (
	PreviewsOK      = "ok"
	PreviewsFailed  = "failed"
	PreviewsSkipped = "skipped"
)

// RunRequest is the work order handed to the scheduler: the persisted job
// record holds everything else.
type RunRequest struct {
	JobID     domain.JobID
	ImagePath string         // uploaded source image, inside the job's inputs/
	RawParams map[string]any // unfiltered request parameters
}

// HeightmapRunner owns the full pipeline for one job: geometry generation,
// job-local artifact copies, preview rendering, publishing and the
// consolidated manifest. Only the geometry step is fatal; every later step
// degrades into warnings so a successful geometry run is never thrown away.
type HeightmapRunner struct {
	logger    *slog.Logger
	store     ports.JobStore
	engine    ports.GeometryEngine
	renderer  ports.PreviewRenderer
	publisher ports.ArtifactPublisher
	bus       *EventBus
	audit     ports.AuditLog // optional

	previewSize int
}

func NewHeightmapRunner(
	logger *slog.Logger,
	store ports.JobStore,
	engine ports.GeometryEngine,
	renderer ports.PreviewRenderer,
	publisher ports.ArtifactPublisher,
	bus *EventBus,
	audit ports.AuditLog,
	previewSize int,
) *HeightmapRunner {
	if previewSize <= 0 {
		previewSize = 900
	}
	return &HeightmapRunner{
		logger:      logger,
		store:       store,
		engine:      engine,
		renderer:    renderer,
		publisher:   publisher,
		bus:         bus,
		audit:       audit,
		previewSize: previewSize,
	}
}

// Run drives one job from queued to a terminal status. It is the scheduler
// callback and must never panic out into the host process.
func (r *HeightmapRunner) Run(ctx context.Context, req RunRequest) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("pipeline panicked", "job_id", req.JobID, "panic", p)
			r.fail(ctx, req.JobID, fmt.Errorf("pipeline panic: %v", p))
		}
	}()

	job, err := r.store.Read(ctx, req.JobID)
	if err != nil || job == nil {
		r.logger.Error("job record unavailable, dropping work order", "job_id", req.JobID, "error", err)
		return
	}

	r.logger.Info("pipeline started", "job_id", job.ID, "name", job.Name)
	r.setProgress(ctx, job.ID, domain.JobStatusRunning, 5)

	// Internal payload persisted as result_raw: everything a debugging
	// session could want, warnings included.
	payload := map[string]any{
		"received": map[string]any{
			"filename": job.UploadFilename,
			"name":     job.Name,
			"params":   req.RawParams,
		},
	}
	var warnings []string
	warn := func(tag string, detail string) {
		warnings = append(warnings, tag)
		if detail != "" {
			payload[tag] = detail
		}
		r.logger.Warn("pipeline warning", "job_id", job.ID, "warning", tag, "detail", detail)
		r.bus.PublishLog(job.ID, tag)
	}

	// Step 1: fail fast before any expensive work.
	if err := r.engine.Ready(ctx); err != nil {
		r.fail(ctx, job.ID, err)
		return
	}
	slug := Slugify(job.Name)
	payload["slug"] = slug
	r.setProgress(ctx, job.ID, domain.JobStatusRunning, 10)

	// Step 3: geometry generation. The only indispensable output is the
	// heightmap+STL pair, so this failure is fatal.
	gen, err := r.engine.Generate(ctx, req.ImagePath, job.Name, req.RawParams)
	if err != nil {
		r.fail(ctx, job.ID, err)
		return
	}
	payload["engine"] = map[string]any{
		"heightmap":      gen.HeightmapPath,
		"stl":            gen.STLPath,
		"manifest":       gen.ManifestPath,
		"params":         gen.Params,
		"dropped_params": gen.DroppedParams,
	}
	r.bus.PublishLog(job.ID, "geometry generated")
	r.setProgress(ctx, job.ID, domain.JobStatusRunning, 40)

	// Step 4: copy engine outputs into the job-local outputs/ tree. The
	// originals remain usable in the engine output dir, so a failed copy is
	// a warning, not a job failure.
	heightmapLocal := r.copyArtifact(gen.HeightmapPath, job.OutputsDir(), warn, "heightmap_copy_failed")
	stlLocal := r.copyArtifact(gen.STLPath, job.OutputsDir(), warn, "stl_copy_failed")
	engineManifestLocal := ""
	if gen.ManifestPath != "" {
		engineManifestLocal = r.copyArtifact(gen.ManifestPath, job.OutputsDir(), warn, "engine_manifest_copy_failed")
	}
	payload["job_local"] = map[string]any{
		"heightmap":       heightmapLocal,
		"stl":             stlLocal,
		"engine_manifest": engineManifestLocal,
	}
	r.setProgress(ctx, job.ID, domain.JobStatusRunning, 55)

	// Step 5: previews, only when a local STL copy exists. A heightmap/STL
	// pair without pretty pictures is still a deliverable job.
	previewsStatus := PreviewsSkipped
	var render domain.RenderResult
	if stlLocal != "" {
		render, err = r.renderer.Render(ctx, stlLocal, job.PreviewsDir(), r.previewSize)
		if err != nil {
			previewsStatus = PreviewsFailed
			warn("blender_previews_exception", fmt.Sprintf("exception: %v", err))
		} else if render.OK || len(render.Files) > 0 {
			previewsStatus = PreviewsOK
		} else {
			previewsStatus = PreviewsFailed
			excerpt := render.StderrTail
			if excerpt == "" {
				excerpt = render.StdoutTail
			}
			if excerpt == "" {
				excerpt = "unknown_error"
			}
			warn("blender_previews_failed", excerpt)
		}
		payload["blender_previews"] = render
	}
	r.setProgress(ctx, job.ID, domain.JobStatusRunning, 75)

	// Step 6: publish every artifact that exists. Each publish failure is
	// caught on its own so one bad copy cannot sink the rest.
	base := slug + "__" + string(job.ID)
	published := map[string]domain.PublishedArtifact{}
	publishedURLs := map[string]string{}
	publishErrors := map[string]string{}
	publish := func(kind, src, publicName string) {
		if src == "" {
			return
		}
		art, err := r.publisher.Publish(src, publicName)
		if err != nil {
			publishErrors[kind] = err.Error()
			warn("publish_failed_"+kind, err.Error())
			return
		}
		published[kind] = art
		publishedURLs[kind] = art.URL
	}

	publish("heightmap", heightmapLocal, base+"__heightmap.png")
	publish("relief", stlLocal, base+"__relief.stl")
	publish("engine_manifest", engineManifestLocal, base+"__engine_manifest.json")

	publishedPreviews := map[string]domain.PublishedArtifact{}
	publishedPreviewURLs := map[string]string{}
	for shot, path := range render.Files {
		art, err := r.publisher.Publish(path, base+"__"+shot+".png")
		if err != nil {
			publishErrors["preview_"+shot] = err.Error()
			warn("publish_failed_preview_"+shot, err.Error())
			continue
		}
		publishedPreviews[shot] = art
		publishedPreviewURLs[shot] = art.URL
	}
	var publishedPreviewManifest *domain.PublishedArtifact
	if render.ManifestPath != "" {
		if art, err := r.publisher.Publish(render.ManifestPath, base+"__previews.json"); err != nil {
			publishErrors["previews_manifest"] = err.Error()
			warn("publish_failed_previews_manifest", err.Error())
		} else {
			publishedPreviewManifest = &art
		}
	}
	if len(publishErrors) > 0 {
		payload["publish_errors"] = publishErrors
	}
	r.setProgress(ctx, job.ID, domain.JobStatusRunning, 90)

	// Step 7: consolidated job manifest, written job-locally then published
	// so there is always one canonical description of the outputs.
	params := gen.Params
	manifest := domain.JobManifest{
		Schema:       domain.JobManifestSchema,
		JobID:        job.ID,
		Name:         job.Name,
		GeneratedUTC: time.Now().UTC().Truncate(time.Second).Format(time.RFC3339),
		Input:        req.ImagePath,
		Params:       params,
		Outputs: domain.JobManifestOutputs{
			Heightmap:                   heightmapLocal,
			STL:                         stlLocal,
			EngineManifest:              engineManifestLocal,
			BlenderPreviewsStatus:       previewsStatus,
			BlenderPreviews:             render.Files,
			BlenderPreviewsManifest:     render.ManifestPath,
			Published:                   published,
			PublishedURLs:               publishedURLs,
			PublishedBlenderPreviews:    publishedPreviews,
			PublishedBlenderPreviewURLs: publishedPreviewURLs,
		},
		Warnings: warnings,
	}

	jobManifestLocal := filepath.Join(job.OutputsDir(), "job_manifest.json")
	var publishedJobManifest *domain.PublishedArtifact
	if err := writeJSON(jobManifestLocal, manifest); err != nil {
		jobManifestLocal = ""
		warn("job_manifest_write_failed", err.Error())
	} else if art, err := r.publisher.Publish(jobManifestLocal, base+"__job_manifest.json"); err != nil {
		warn("publish_failed_job_manifest", err.Error())
	} else {
		publishedJobManifest = &art
	}
	r.setProgress(ctx, job.ID, domain.JobStatusRunning, 95)

	// Step 8: terminal update.
	result := &domain.JobResult{
		Heightmap: fallback(heightmapLocal, gen.HeightmapPath),
		STL:       fallback(stlLocal, gen.STLPath),
		Manifest:  jobManifestLocal,
		Public: domain.PublicURLs{
			HeightmapURL:        urlPtr(publishedURLs, "heightmap"),
			STLURL:              urlPtr(publishedURLs, "relief"),
			EngineManifestURL:   urlPtr(publishedURLs, "engine_manifest"),
			BlenderPreviewsURLs: publishedPreviewURLs,
		},
		PublishedEnginePaths: domain.PublishedPaths{
			Heightmap:       published["heightmap"].EnginePath,
			STL:             published["relief"].EnginePath,
			EngineManifest:  published["engine_manifest"].EnginePath,
			BlenderPreviews: enginePaths(publishedPreviews),
		},
		BlenderPreviewsStatus: previewsStatus,
		BlenderPreviews:       enginePaths(publishedPreviews),
		Warnings:              warnings,
	}
	if publishedJobManifest != nil {
		result.Public.JobManifestURL = &publishedJobManifest.URL
		result.PublishedEnginePaths.JobManifest = publishedJobManifest.EnginePath
	}
	if publishedPreviewManifest != nil {
		result.Public.BlenderPreviewsManifestURL = &publishedPreviewManifest.URL
		result.PublishedEnginePaths.BlenderPreviewsManifest = publishedPreviewManifest.EnginePath
		result.BlenderPreviewsManifest = publishedPreviewManifest.EnginePath
	}
	payload["warnings"] = warnings

	done := domain.JobStatusDone
	progress := 100
	if err := r.store.Update(ctx, job.ID, domain.JobPatch{
		Status:    &done,
		Progress:  &progress,
		Result:    result,
		ResultRaw: payload,
	}); err != nil {
		r.logger.Error("failed to persist terminal job state", "job_id", job.ID, "error", err)
	}
	r.bus.PublishStatus(job.ID, done, &progress)
	r.recordTransition(ctx, job.ID, done, progress, "")
	r.logger.Info("pipeline finished", "job_id", job.ID, "previews", previewsStatus, "warnings", len(warnings))
}

// copyArtifact copies src into dstDir keeping the base name. Returns the
// destination path, or "" after recording a warning.
func (r *HeightmapRunner) copyArtifact(src, dstDir string, warn func(string, string), tag string) string {
	if src == "" {
		return ""
	}
	dst := filepath.Join(dstDir, filepath.Base(src))
	if err := copyFile(src, dst); err != nil {
		warn(tag, err.Error())
		return ""
	}
	return dst
}

func (r *HeightmapRunner) setProgress(ctx context.Context, id domain.JobID, status domain.JobStatus, progress int) {
	if err := r.store.Update(ctx, id, domain.JobPatch{Status: &status, Progress: &progress}); err != nil {
		r.logger.Error("failed to update job progress", "job_id", id, "error", err)
	}
	r.bus.PublishStatus(id, status, &progress)
	r.recordTransition(ctx, id, status, progress, "")
}

func (r *HeightmapRunner) fail(ctx context.Context, id domain.JobID, cause error) {
	r.logger.Error("job failed", "job_id", id, "error", cause)
	failed := domain.JobStatusFailed
	msg := cause.Error()
	if err := r.store.Update(ctx, id, domain.JobPatch{Status: &failed, Error: &msg}); err != nil {
		r.logger.Error("failed to persist job failure", "job_id", id, "error", err)
	}
	r.bus.PublishStatus(id, failed, nil)
	r.bus.PublishLog(id, msg)
	r.recordTransition(ctx, id, failed, 0, msg)
}

// recordTransition is best-effort telemetry: an audit write must never
// affect the pipeline.
func (r *HeightmapRunner) recordTransition(ctx context.Context, id domain.JobID, status domain.JobStatus, progress int, detail string) {
	if r.audit == nil {
		return
	}
	t := domain.JobTransition{
		JobID:     id,
		Status:    status,
		Progress:  progress,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.audit.RecordTransition(ctx, t); err != nil {
		r.logger.Warn("failed to record job transition", "job_id", id, "error", err)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", dst, err)
	}
	return out.Close()
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func fallback(primary, secondary string) string {
	if primary != "" {
		return primary
	}
	return secondary
}

func urlPtr(urls map[string]string, kind string) *string {
	if u, ok := urls[kind]; ok {
		return &u
	}
	return nil
}

func enginePaths(arts map[string]domain.PublishedArtifact) map[string]string {
	out := make(map[string]string, len(arts))
	for k, v := range arts {
		out[k] = v.EnginePath
	}
	return out
}
