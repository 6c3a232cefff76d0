// Package fsstore persists job records as one JSON file per job, with a
// per-job working tree alongside. Plain files keep every record inspectable
// with nothing but cat.
package fsstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hexforge/reliefd/internal/core/domain"
)

// Store lays the jobs root out as:
//
//	<root>/meta/<id>.json                       job record
//	<root>/work/<id>/inputs/                    uploaded source image
//	<root>/work/<id>/outputs/                   job-local artifact copies
//	<root>/work/<id>/outputs/previews/          rendered preview shots
type Store struct {
	root   string
	logger *slog.Logger
}

func New(root string, logger *slog.Logger) (*Store, error) {
	for _, dir := range []string{filepath.Join(root, "meta"), filepath.Join(root, "work")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create jobs directory %s: %w", dir, err)
		}
	}
	return &Store{root: root, logger: logger}, nil
}

func (s *Store) metaPath(id domain.JobID) string {
	return filepath.Join(s.root, "meta", string(id)+".json")
}

func (s *Store) workDir(id domain.JobID) string {
	return filepath.Join(s.root, "work", string(id))
}

// Create allocates an id, builds the working tree and writes the initial
// queued record.
func (s *Store) Create(ctx context.Context, name, uploadFilename string) (*domain.Job, error) {
	id := domain.JobID(uuid.New().String())

	job := &domain.Job{
		ID:             id,
		Type:           domain.JobTypeHeightmap,
		Name:           name,
		Status:         domain.JobStatusQueued,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
		UploadFilename: uploadFilename,
		Progress:       0,
		JobDir:         s.workDir(id),
	}

	for _, dir := range []string{job.InputsDir(), job.PreviewsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create job tree for %s: %w", id, err)
		}
	}
	if err := s.write(job); err != nil {
		return nil, err
	}

	s.logger.Info("job record created", "job_id", id, "name", name)
	return job, nil
}

// Read returns (nil, nil) when no record exists.
func (s *Store) Read(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	data, err := os.ReadFile(s.metaPath(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", id, err)
	}

	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

// Update merges the patch into the stored record. A missing record is a
// silent no-op: background tasks report against records a client may have
// already deleted.
func (s *Store) Update(ctx context.Context, id domain.JobID, patch domain.JobPatch) error {
	job, err := s.Read(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		s.logger.Debug("update for missing job record, ignoring", "job_id", id)
		return nil
	}

	if patch.Status != nil {
		job.Status = *patch.Status
	}
	if patch.Progress != nil {
		job.Progress = *patch.Progress
	}
	if patch.Error != nil {
		job.Error = patch.Error
	}
	if patch.Result != nil {
		job.Result = patch.Result
	}
	if patch.ResultRaw != nil {
		job.ResultRaw = patch.ResultRaw
	}
	job.UpdatedAt = time.Now().UTC()

	return s.write(job)
}

// List returns records newest-first by record file modification time.
// result_raw is stripped: list views are for dashboards, not debugging.
func (s *Store) List(ctx context.Context, limit, offset int) (domain.JobPage, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "meta"))
	if err != nil {
		return domain.JobPage{}, fmt.Errorf("failed to list job records: %w", err)
	}

	type record struct {
		id    domain.JobID
		mtime time.Time
	}
	records := make([]record, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		id := domain.JobID(e.Name()[:len(e.Name())-len(".json")])
		records = append(records, record{id: id, mtime: info.ModTime()})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].mtime.After(records[j].mtime) })

	page := domain.JobPage{Total: len(records), Limit: limit, Offset: offset, Items: []domain.Job{}}
	if offset >= len(records) {
		return page, nil
	}
	end := offset + limit
	if end > len(records) {
		end = len(records)
	}
	for _, rec := range records[offset:end] {
		job, err := s.Read(ctx, rec.id)
		if err != nil || job == nil {
			s.logger.Warn("skipping unreadable job record", "job_id", rec.id, "error", err)
			continue
		}
		job.ResultRaw = nil
		page.Items = append(page.Items, *job)
	}
	return page, nil
}

// Delete removes the record only. Published artifacts and the working tree
// stay on disk; cleaning those up is an operator decision.
func (s *Store) Delete(ctx context.Context, id domain.JobID) (bool, error) {
	err := os.Remove(s.metaPath(id))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	s.logger.Info("job record deleted", "job_id", id)
	return true, nil
}

func (s *Store) write(job *domain.Job) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}

	// Write-then-rename so a crash mid-write never corrupts the record.
	tmp := s.metaPath(job.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write job %s: %w", job.ID, err)
	}
	if err := os.Rename(tmp, s.metaPath(job.ID)); err != nil {
		return fmt.Errorf("failed to commit job %s: %w", job.ID, err)
	}
	return nil
}
