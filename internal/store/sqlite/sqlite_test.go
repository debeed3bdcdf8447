package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/nulzo/inference-gateway/internal/inference"
	"github.com/nulzo/inference-gateway/internal/store"
	"github.com/nulzo/inference-gateway/internal/store/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := NewSQLiteStorage(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestEndpoints_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	e, err := model.NewEndpoint(inference.UnparsedModel{
		InferenceID:     "e1",
		Service:         "svcA",
		TaskType:        inference.TaskCompletion,
		ServiceSettings: map[string]any{"model_id": "m1"},
	})
	require.NoError(t, err)
	require.NoError(t, repo.Endpoints().Upsert(ctx, e))

	got, err := repo.Endpoints().Get(ctx, "e1")
	require.NoError(t, err)
	unparsed, err := got.Unparsed()
	require.NoError(t, err)
	assert.Equal(t, "svcA", unparsed.Service)
	assert.Equal(t, inference.TaskCompletion, unparsed.TaskType)
	assert.Equal(t, "m1", unparsed.ServiceSettings["model_id"])
	assert.Nil(t, unparsed.TaskSettings)
	created := got.CreatedAt

	// replace keeps created_at
	e.Service = "svcB"
	e.CreatedAt = time.Time{}
	require.NoError(t, repo.Endpoints().Upsert(ctx, e))
	got, err = repo.Endpoints().Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "svcB", got.Service)
	assert.WithinDuration(t, created, got.CreatedAt, time.Second)

	list, err := repo.Endpoints().List(ctx, "svcA")
	require.NoError(t, err)
	assert.Empty(t, list)
	list, err = repo.Endpoints().List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	deleted, err := repo.Endpoints().Delete(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = repo.Endpoints().Delete(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = repo.Endpoints().Get(ctx, "e1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConnectors_Pagination(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	for i := 0; i < 15; i++ {
		require.NoError(t, repo.Connectors().Create(ctx, &model.Connector{
			ID:   fmt.Sprintf("c%02d", i),
			Name: fmt.Sprintf("connector %d", i),
		}))
	}

	n, err := repo.Connectors().Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 15, n)

	page, err := repo.Connectors().List(ctx, 10, 10)
	require.NoError(t, err)
	require.Len(t, page, 5)
	assert.Equal(t, "c10", page[0].ID)

	page, err = repo.Connectors().List(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestRequests_LogAndStats(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	logs := []*model.RequestLog{
		{ID: "r1", InferenceID: "e1", Outcome: "success", StatusCode: 200, LatencyMS: 10, CreatedAt: time.Now().UTC()},
		{ID: "r2", InferenceID: "e1", Outcome: "timeout", ErrorKind: "timeout", StatusCode: 408, LatencyMS: 30,
			IsStreamed: true, ChunkCount: 3, TTFTMS: sql.NullInt64{Int64: 5, Valid: true}, CreatedAt: time.Now().UTC()},
	}
	require.NoError(t, repo.WithTx(ctx, func(tx store.Repository) error {
		for _, l := range logs {
			if err := tx.Requests().Log(ctx, l); err != nil {
				return err
			}
		}
		return nil
	}))

	got, err := repo.Requests().GetByID(ctx, "r2")
	require.NoError(t, err)
	assert.True(t, got.IsStreamed)
	assert.Equal(t, int64(5), got.TTFTMS.Int64)

	recent, err := repo.Requests().GetRecent(ctx, "e1", 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	stats, err := repo.Requests().GetDailyStats(ctx, 7)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].TotalRequests)
	assert.Equal(t, 1, stats[0].ErrorCount)
	assert.Equal(t, 1, stats[0].StreamedRequests)
	assert.Equal(t, 3, stats[0].TotalChunks)
	assert.InDelta(t, 20.0, stats[0].AverageLatency, 0.001)
}

func TestWithTx_RollsBack(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	err := repo.WithTx(ctx, func(tx store.Repository) error {
		if err := tx.Connectors().Create(ctx, &model.Connector{ID: "c1", Name: "x"}); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	n, err := repo.Connectors().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReset_ClearsData(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "reset.db") + "?mode=rwc"

	repo, err := NewSQLiteStorage(dsn, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, repo.Connectors().Create(ctx, &model.Connector{ID: "c1", Name: "one", Status: "created"}))
	require.NoError(t, repo.Close())

	require.NoError(t, Reset(dsn))

	repo, err = NewSQLiteStorage(dsn, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = repo.Close() }()

	count, err := repo.Connectors().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
