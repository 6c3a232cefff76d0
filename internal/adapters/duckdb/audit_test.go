package duckdb

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexforge/reliefd/internal/core/domain"
)

func newTestAuditLog(t *testing.T) *AuditLog {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	audit, err := NewAuditLog(filepath.Join(t.TempDir(), "audit.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { audit.Close() })
	return audit
}

func TestAuditLog_RecordAndList(t *testing.T) {
	audit := newTestAuditLog(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	transitions := []domain.JobTransition{
		{JobID: "job-1", Status: domain.JobStatusQueued, Progress: 0, CreatedAt: base},
		{JobID: "job-1", Status: domain.JobStatusRunning, Progress: 40, CreatedAt: base.Add(time.Second)},
		{JobID: "job-1", Status: domain.JobStatusDone, Progress: 100, CreatedAt: base.Add(2 * time.Second)},
		{JobID: "job-2", Status: domain.JobStatusFailed, Progress: 0, Detail: "engine exploded", CreatedAt: base},
	}
	for _, tr := range transitions {
		require.NoError(t, audit.RecordTransition(ctx, tr))
	}

	got, err := audit.ListTransitions(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, domain.JobStatusQueued, got[0].Status)
	assert.Equal(t, domain.JobStatusRunning, got[1].Status)
	assert.Equal(t, domain.JobStatusDone, got[2].Status)
	assert.Equal(t, 100, got[2].Progress)

	got, err = audit.ListTransitions(ctx, "job-2")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "engine exploded", got[0].Detail)
}

func TestAuditLog_UnknownJobIsEmpty(t *testing.T) {
	audit := newTestAuditLog(t)

	got, err := audit.ListTransitions(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, got)
}
