package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/nulzo/inference-gateway/internal/inference"
	"github.com/nulzo/inference-gateway/internal/store"
	"github.com/nulzo/inference-gateway/internal/store/model"
	"github.com/nulzo/inference-gateway/internal/store/sqlite"
	"github.com/nulzo/inference-gateway/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := sqlite.NewSQLiteStorage(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestIngestor_PersistsRecordsOnStop(t *testing.T) {
	repo := newRepo(t)
	ing := NewIngestor(zap.NewNop(), repo, IngestorOptions{BatchSize: 100, FlushTime: time.Hour})
	ing.Start(context.Background())

	ing.Record(context.Background(), telemetry.Record{
		RequestID:   "r1",
		InferenceID: "e1",
		Service:     "svcA",
		TaskType:    inference.TaskCompletion,
		Status:      200,
		Latency:     15 * time.Millisecond,
	})
	ing.Record(context.Background(), telemetry.Record{
		RequestID:   "r2",
		InferenceID: "e1",
		Service:     "svcA",
		Kind:        inference.KindTimeout,
		Status:      408,
		Streamed:    true,
		Chunks:      2,
		TTFT:        3 * time.Millisecond,
	})
	ing.Stop()

	log, err := repo.Requests().GetByID(context.Background(), "r2")
	require.NoError(t, err)
	assert.Equal(t, "timeout", log.Outcome)
	assert.Equal(t, "timeout", log.ErrorKind)
	assert.True(t, log.TTFTMS.Valid)

	svc := NewService(repo)
	stats, err := svc.GetUsageOverview(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].TotalRequests)
	assert.Equal(t, 1, stats[0].ErrorCount)

	recent, err := svc.GetRecent(context.Background(), "e1", 0)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	// after Stop records are dropped instead of panicking
	assert.NotPanics(t, func() {
		ing.Record(context.Background(), telemetry.Record{RequestID: "late"})
	})
}

func TestIngestor_FlushesOnBatchSize(t *testing.T) {
	repo := newRepo(t)
	ing := NewIngestor(zap.NewNop(), repo, IngestorOptions{BatchSize: 1, FlushTime: time.Hour})
	ing.Start(context.Background())
	defer ing.Stop()

	ing.Record(context.Background(), telemetry.Record{RequestID: "r1", InferenceID: "e1", Status: 200})

	assert.Eventually(t, func() bool {
		_, err := repo.Requests().GetByID(context.Background(), "r1")
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestService_PruneKeepsRecentLogs(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	now := time.Now()

	require.NoError(t, repo.Requests().Log(ctx, &model.RequestLog{
		ID: "old", InferenceID: "e1", Outcome: "success", StatusCode: 200, CreatedAt: now.Add(-48 * time.Hour).UTC(),
	}))
	require.NoError(t, repo.Requests().Log(ctx, &model.RequestLog{
		ID: "new", InferenceID: "e2", Outcome: "success", StatusCode: 200, CreatedAt: now.UTC(),
	}))

	svc := NewService(repo)
	n, err := svc.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	recent, err := svc.GetRecent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "new", recent[0].ID)

	n, err = svc.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}
