package domain

// Manifest schema tags. Bump when the layout changes shape.
const (
	EngineManifestSchema = "hexforge3d.manifest.v1"
	JobManifestSchema    = "hexforge3d.job.v1"
)

// EngineManifest is the authoritative description of one geometry-generation
// invocation. Given the same inputs and timestamp it must reproduce
// byte-for-byte, so it is a struct (fixed field order) rather than a map.
type EngineManifest struct {
	Schema        string                `json:"schema"`
	EngineVersion string                `json:"engine_version"`
	CreatedUTC    string                `json:"created_utc"` // RFC 3339, second precision
	Mode          string                `json:"mode"`
	Name          string                `json:"name"`
	Params        ReliefParams          `json:"params"`
	DimensionsMM  [3]float64            `json:"dimensions_mm"`
	Inputs        EngineManifestInputs  `json:"inputs"`
	Outputs       EngineManifestOutputs `json:"outputs"`
	DroppedParams []string              `json:"dropped_params,omitempty"`
}

type EngineManifestInputs struct {
	SourceImage     string `json:"source_image"`
	EngineImageCopy string `json:"engine_image_copy"`
}

type EngineManifestOutputs struct {
	Heightmap string            `json:"heightmap"`
	STL       string            `json:"stl"`
	Basenames map[string]string `json:"basenames"`
}

// RenderResult is the outcome of one headless preview render, successful or
// not. Failure is data here, not an error: the caller decides how much a
// broken preview run matters.
type RenderResult struct {
	OK           bool              `json:"ok"` // returncode 0 AND manifest present
	ReturnCode   int               `json:"returncode"`
	OutDir       string            `json:"out_dir"`
	ManifestPath string            `json:"previews_json,omitempty"`
	Files        map[string]string `json:"files"` // shot name -> absolute path
	StdoutTail   string            `json:"stdout"`
	StderrTail   string            `json:"stderr"`
	Err          string            `json:"error,omitempty"`
}

// PreviewShots are the fixed camera angles the renderer script produces.
var PreviewShots = []string{"hero", "iso", "top", "side"}

// JobManifest is the consolidated, published snapshot of everything one job
// produced. It is written once, after all other artifacts settle.
type JobManifest struct {
	Schema       string             `json:"schema"`
	JobID        JobID              `json:"job_id"`
	Name         string             `json:"name"`
	GeneratedUTC string             `json:"generated_utc"`
	Input        string             `json:"input"`
	Params       ReliefParams       `json:"params"`
	Outputs      JobManifestOutputs `json:"outputs"`
	Warnings     []string           `json:"warnings,omitempty"`
}

type JobManifestOutputs struct {
	Heightmap      string `json:"heightmap,omitempty"`
	STL            string `json:"stl,omitempty"`
	EngineManifest string `json:"engine_manifest,omitempty"`

	BlenderPreviewsStatus   string            `json:"blender_previews_status"`
	BlenderPreviews         map[string]string `json:"blender_previews"`
	BlenderPreviewsManifest string            `json:"blender_previews_manifest,omitempty"`

	Published     map[string]PublishedArtifact `json:"published"`
	PublishedURLs map[string]string            `json:"published_urls"`

	PublishedBlenderPreviews    map[string]PublishedArtifact `json:"published_blender_previews"`
	PublishedBlenderPreviewURLs map[string]string            `json:"published_blender_preview_urls"`
}
