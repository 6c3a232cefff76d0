package ports

import (
	"context"

	"github.com/hexforge/reliefd/internal/core/domain"
)

// JobStore abstracts job-record persistence. The filesystem adapter is the
// default; tests swap in an in-memory implementation.
type JobStore interface {
	// Create allocates a fresh id, builds the job-local directory tree and
	// writes the initial queued record.
	Create(ctx context.Context, name, uploadFilename string) (*domain.Job, error)

	// Read returns (nil, nil) for unknown ids — polling an id that was never
	// created is a normal outcome, not an error.
	Read(ctx context.Context, id domain.JobID) (*domain.Job, error)

	// Update merges the patch into the stored record and bumps updated_at.
	// A missing record is silently ignored: updates come from background
	// tasks that must never crash on bookkeeping.
	Update(ctx context.Context, id domain.JobID, patch domain.JobPatch) error

	// List returns records newest-first by file modification time, with
	// result_raw stripped from every item.
	List(ctx context.Context, limit, offset int) (domain.JobPage, error)

	// Delete removes only the status record, never artifacts. Reports
	// whether a record existed.
	Delete(ctx context.Context, id domain.JobID) (bool, error)
}

// GeometryEngine drives the external image→heightmap and heightmap→STL
// commands.
type GeometryEngine interface {
	// Ready verifies the engine prerequisites (interpreter present, output
	// root writable). Returns a *domain.ReadinessError when not met.
	Ready(ctx context.Context) error

	// Generate runs both commands and writes the engine manifest. Raw
	// parameters are filtered through the versioned schema; unknown keys are
	// dropped, never fatal.
	Generate(ctx context.Context, imagePath, name string, raw map[string]any) (*domain.GenerateResult, error)
}

// PreviewRenderer runs the headless renderer against an STL. Process failure
// and timeout are reported inside the RenderResult; the error return is
// reserved for failures to even start (e.g. output dir not creatable).
type PreviewRenderer interface {
	Render(ctx context.Context, stlPath, outDir string, imageSize int) (domain.RenderResult, error)
}

// ArtifactPublisher copies a produced file into the shared public output
// root under a path-safety policy.
type ArtifactPublisher interface {
	Publish(sourcePath, publicName string) (domain.PublishedArtifact, error)
}

// AuditLog records job status transitions for later inspection. Writes are
// best-effort from the runner's perspective.
type AuditLog interface {
	RecordTransition(ctx context.Context, t domain.JobTransition) error
	ListTransitions(ctx context.Context, id domain.JobID) ([]domain.JobTransition, error)
	Close() error
}
