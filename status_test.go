package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmbee/dngsync/internal/sync"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestLedger(t *testing.T) *sync.Ledger {
	t.Helper()

	ledger, err := sync.OpenLedger(context.Background(), filepath.Join(t.TempDir(), "state.db"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	return ledger
}

func TestLoadStatus_Empty(t *testing.T) {
	st, err := loadStatus(context.Background(), newTestLedger(t), "PROJ", 5)
	require.NoError(t, err)

	assert.Equal(t, "PROJ", st.Project)
	assert.Empty(t, st.Runs)
	assert.NotNil(t, st.Runs, "JSON output lists [] rather than null")
	assert.Empty(t, st.Applied)

	var buf bytes.Buffer
	printStatusText(&buf, st)
	assert.Contains(t, buf.String(), "No runs recorded")
	assert.Contains(t, buf.String(), "No baselines applied")
}

func TestLoadStatus_RunsAndBaselines(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	first, err := ledger.StartRun(ctx, "PROJ", "master")
	require.NoError(t, err)
	require.NoError(t, ledger.RecordBaseline(ctx, sync.AppliedBaseline{
		BaselineID:  "B1",
		BaselineURI: "https://dng/gc/configuration/B1",
		Title:       "Initial",
		TagID:       "tag-1",
		Added:       1234,
		RunID:       first,
		AppliedAt:   time.Now().Add(-2 * time.Hour),
	}))
	require.NoError(t, ledger.FinishRun(ctx, first, &sync.Report{Applied: []string{"B1"}, HeadAdded: 3}, nil))

	second, err := ledger.StartRun(ctx, "PROJ", "master")
	require.NoError(t, err)
	require.NoError(t, ledger.FinishRun(ctx, second, &sync.Report{}, errors.New("mms: server error")))

	st, err := loadStatus(ctx, ledger, "PROJ", 5)
	require.NoError(t, err)

	require.Len(t, st.Runs, 2)
	assert.Equal(t, sync.RunFailed, st.Runs[0].Status, "newest first")
	assert.Equal(t, "mms: server error", st.Runs[0].Error)
	assert.Equal(t, sync.RunDone, st.Runs[1].Status)
	assert.Equal(t, 1, st.Runs[1].Applied)
	assert.Equal(t, 3, st.Runs[1].HeadAdded)
	require.NotNil(t, st.Runs[1].FinishedAt)

	require.Len(t, st.Applied, 1)
	assert.Equal(t, "B1", st.Applied[0].ID)

	var buf bytes.Buffer
	printStatusText(&buf, st)

	out := buf.String()
	assert.Contains(t, out, "Applied baselines (1)")
	assert.Contains(t, out, "Initial")
	assert.Contains(t, out, "+1,234/-0")
	assert.Contains(t, out, "2 hours ago")
	assert.Contains(t, out, "mms: server error")
}

func TestLoadStatus_LimitsRuns(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	for range 3 {
		id, err := ledger.StartRun(ctx, "PROJ", "master")
		require.NoError(t, err)
		require.NoError(t, ledger.FinishRun(ctx, id, nil, nil))
	}

	st, err := loadStatus(ctx, ledger, "PROJ", 2)
	require.NoError(t, err)
	assert.Len(t, st.Runs, 2)
}

func TestPrintStatusText_RunningSync(t *testing.T) {
	var buf bytes.Buffer
	printStatusText(&buf, projectStatus{Project: "PROJ", RunningPID: 4242})

	assert.Contains(t, buf.String(), "Sync in progress (PID 4242)")
}
