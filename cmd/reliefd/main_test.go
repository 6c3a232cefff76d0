package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexforge/reliefd/internal/core/domain"
)

// pagedStore serves a fixed record set one honest page at a time.
type pagedStore struct {
	jobs []domain.Job
}

func (p *pagedStore) Create(ctx context.Context, name, uploadFilename string) (*domain.Job, error) {
	panic("not used")
}

func (p *pagedStore) Read(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	for i := range p.jobs {
		if p.jobs[i].ID == id {
			cp := p.jobs[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (p *pagedStore) Update(ctx context.Context, id domain.JobID, patch domain.JobPatch) error {
	for i := range p.jobs {
		if p.jobs[i].ID != id {
			continue
		}
		if patch.Status != nil {
			p.jobs[i].Status = *patch.Status
		}
		if patch.Error != nil {
			p.jobs[i].Error = patch.Error
		}
		return nil
	}
	return nil
}

func (p *pagedStore) List(ctx context.Context, limit, offset int) (domain.JobPage, error) {
	page := domain.JobPage{Total: len(p.jobs), Limit: limit, Offset: offset, Items: []domain.Job{}}
	if offset >= len(p.jobs) {
		return page, nil
	}
	end := offset + limit
	if end > len(p.jobs) {
		end = len(p.jobs)
	}
	page.Items = append(page.Items, p.jobs[offset:end]...)
	return page, nil
}

func (p *pagedStore) Delete(ctx context.Context, id domain.JobID) (bool, error) {
	return false, nil
}

func TestFailOrphans_WalksEveryPage(t *testing.T) {
	// More records than one List page, stuck ones scattered throughout,
	// including past the first page boundary.
	store := &pagedStore{}
	for i := 0; i < 450; i++ {
		status := domain.JobStatusDone
		switch {
		case i%100 == 3:
			status = domain.JobStatusRunning
		case i == 449:
			status = domain.JobStatusQueued
		}
		store.jobs = append(store.jobs, domain.Job{
			ID:     domain.JobID(fmt.Sprintf("job-%03d", i)),
			Status: status,
		})
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	require.NoError(t, failOrphans(context.Background(), logger, store))

	for _, job := range store.jobs {
		assert.True(t, job.Status.Terminal(), "job %s left non-terminal", job.ID)
		if job.Status == domain.JobStatusFailed {
			require.NotNil(t, job.Error)
			assert.Contains(t, *job.Error, "restart")
		}
	}
}
