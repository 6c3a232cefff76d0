package domain

import (
	"errors"
	"path/filepath"
	"time"
)

type JobID string

type JobStatus string

// Job lifecycle: queued → running → done / failed. No other transitions.
const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// JobTypeHeightmap tags the heightmap→relief pipeline. It is currently the
// only job type, but records keep the tag so they stay readable if more
// pipelines are added.
const JobTypeHeightmap = "heightmap"

// Job is one request to produce a heightmap + relief-STL (+previews) asset set.
type Job struct {
	ID             JobID          `json:"id"`
	Type           string         `json:"type"`
	Name           string         `json:"name"`
	Status         JobStatus      `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	UploadFilename string         `json:"upload_filename"`
	Progress       int            `json:"progress"` // 0–100, monotonic while running
	Error          *string        `json:"error"`
	Result         *JobResult     `json:"result"`
	ResultRaw      map[string]any `json:"result_raw,omitempty"` // full internal payload, stripped from list views
	JobDir         string         `json:"job_dir"`
}

// InputsDir is where the uploaded source image lives.
func (j *Job) InputsDir() string { return filepath.Join(j.JobDir, "inputs") }

// OutputsDir holds copies of every artifact this job produced. It is the
// durable record of the job even if the shared assets directory is cleared.
func (j *Job) OutputsDir() string { return filepath.Join(j.JobDir, "outputs") }

// PreviewsDir holds the rendered preview shots.
func (j *Job) PreviewsDir() string { return filepath.Join(j.OutputsDir(), "previews") }

// JobPatch is a partial update applied to a stored job record.
// Nil fields are left untouched.
type JobPatch struct {
	Status    *JobStatus
	Progress  *int
	Error     *string
	Result    *JobResult
	ResultRaw map[string]any
}

// JobPage is one page of job records, newest first.
type JobPage struct {
	Total  int   `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
	Items  []Job `json:"items"`
}

// JobResult is the structured output of a finished job. Job-local paths are
// kept for debugging; the public block is what a UI should use.
type JobResult struct {
	Heightmap string `json:"heightmap"`
	STL       string `json:"stl"`
	Manifest  string `json:"manifest"`

	Public               PublicURLs     `json:"public"`
	PublishedEnginePaths PublishedPaths `json:"published_engine_paths"`

	BlenderPreviewsStatus   string            `json:"blender_previews_status"` // ok / failed / skipped
	BlenderPreviews         map[string]string `json:"blender_previews"`
	BlenderPreviewsManifest string            `json:"blender_previews_manifest,omitempty"`

	Warnings []string `json:"warnings,omitempty"`
}

// PublicURLs collects every client-facing URL a finished job exposes.
type PublicURLs struct {
	HeightmapURL               *string           `json:"heightmap_url"`
	STLURL                     *string           `json:"stl_url"`
	EngineManifestURL          *string           `json:"engine_manifest_url"`
	JobManifestURL             *string           `json:"job_manifest_url"`
	BlenderPreviewsURLs        map[string]string `json:"blender_previews_urls"`
	BlenderPreviewsManifestURL *string           `json:"blender_previews_manifest_url"`
}

// PublishedPaths mirrors PublicURLs with engine-side filesystem paths.
type PublishedPaths struct {
	Heightmap               string            `json:"heightmap,omitempty"`
	STL                     string            `json:"stl,omitempty"`
	EngineManifest          string            `json:"engine_manifest,omitempty"`
	JobManifest             string            `json:"job_manifest,omitempty"`
	BlenderPreviews         map[string]string `json:"blender_previews"`
	BlenderPreviewsManifest string            `json:"blender_previews_manifest,omitempty"`
}

// PublishedArtifact is one file copied into the shared assets directory.
type PublishedArtifact struct {
	EnginePath string `json:"engine_path"`
	URL        string `json:"url"`
}

// JobTransition is one audited status change, recorded best-effort.
type JobTransition struct {
	JobID     JobID     `json:"job_id"`
	Status    JobStatus `json:"status"`
	Progress  int       `json:"progress"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrJobNotFound = errors.New("job not found")

	// Publisher refusal conditions. Callers match with errors.Is.
	ErrSourceMissing  = errors.New("publish: source file missing")
	ErrRefusedSymlink = errors.New("publish: refusing symlinked path")
	ErrPathEscape     = errors.New("publish: destination escapes output root")
)
