package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nulzo/inference-gateway/internal/inference"
	"github.com/nulzo/inference-gateway/internal/store"
	"github.com/nulzo/inference-gateway/internal/store/cache"
	"github.com/nulzo/inference-gateway/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newStore(t *testing.T) (*Store, store.Repository) {
	t.Helper()
	repo, err := sqlite.NewSQLiteStorage(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return NewStore(repo, cache.NewMemoryCache(), time.Minute, zap.NewNop()), repo
}

func e1() inference.UnparsedModel {
	return inference.UnparsedModel{
		InferenceID:     "e1",
		Service:         "svcA",
		TaskType:        inference.TaskCompletion,
		ServiceSettings: map[string]any{"model_id": "m"},
	}
}

func TestResolve(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.Resolve(ctx, "e1")
	assert.True(t, inference.IsKind(err, inference.KindEndpointNotFound))

	_, err = s.Put(ctx, e1())
	require.NoError(t, err)

	m, err := s.Resolve(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "svcA", m.Service)
	assert.Equal(t, inference.TaskCompletion, m.TaskType)
	assert.False(t, m.CreatedAt.IsZero())
}

func TestResolve_CacheIsInvalidatedOnPutAndDelete(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, e1())
	require.NoError(t, err)
	_, err = s.Resolve(ctx, "e1") // warm cache
	require.NoError(t, err)

	changed := e1()
	changed.Service = "svcB"
	_, err = s.Put(ctx, changed)
	require.NoError(t, err)

	m, err := s.Resolve(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "svcB", m.Service)

	require.NoError(t, s.Delete(ctx, "e1"))
	_, err = s.Resolve(ctx, "e1")
	assert.True(t, inference.IsKind(err, inference.KindEndpointNotFound))

	err = s.Delete(ctx, "e1")
	assert.True(t, inference.IsKind(err, inference.KindEndpointNotFound))
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string, any) error { return errors.New("down") }
func (brokenCache) Set(context.Context, string, any, time.Duration) error {
	return errors.New("down")
}
func (brokenCache) Delete(context.Context, string) error { return errors.New("down") }

func TestResolve_SurvivesBrokenCache(t *testing.T) {
	repo, err := sqlite.NewSQLiteStorage(":memory:", zap.NewNop())
	require.NoError(t, err)
	defer repo.Close()

	s := NewStore(repo, brokenCache{}, time.Minute, zap.NewNop())
	_, err = s.Put(context.Background(), e1())
	require.NoError(t, err)

	_, err = s.Resolve(context.Background(), "e1")
	assert.NoError(t, err)
}

func TestResolve_ConcurrentIndependent(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	_, err := s.Put(ctx, e1())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "e1"
			if i%2 == 1 {
				id = "missing"
			}
			_, errs[i] = s.Resolve(ctx, id)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if i%2 == 1 {
			assert.True(t, inference.IsKind(err, inference.KindEndpointNotFound))
		} else {
			assert.NoError(t, err)
		}
	}
}

func TestPut_Validation(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	bad := []inference.UnparsedModel{
		{InferenceID: "", Service: "a", TaskType: inference.TaskCompletion},
		{InferenceID: "has/slash", Service: "a", TaskType: inference.TaskCompletion},
		{InferenceID: "x", Service: "", TaskType: inference.TaskCompletion},
		{InferenceID: "x", Service: "a", TaskType: inference.TaskAny},
		{InferenceID: "x", Service: "a", TaskType: "bogus"},
	}
	for _, m := range bad {
		_, err := s.Put(ctx, m)
		assert.True(t, inference.IsKind(err, inference.KindValidation), "%+v", m)
	}
}

func TestListAndSync(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	e2 := e1()
	e2.InferenceID = "e2"
	e2.Service = "ghost"

	n, err := s.Sync(ctx, []inference.UnparsedModel{e1(), e2}, func(svc string) bool { return svc == "svcA" })
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	only, err := s.List(ctx, "ghost")
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, "e2", only[0].InferenceID)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	mapped := filepath.Join(dir, "mapped.yaml")
	require.NoError(t, os.WriteFile(mapped, []byte(`
endpoints:
  - inference_id: e1
    service: svcA
    task_type: COMPLETION
    service_settings:
      model_id: gpt-4o-mini
    task_settings:
      temperature: 0.1
`), 0o600))

	list := filepath.Join(dir, "list.yaml")
	require.NoError(t, os.WriteFile(list, []byte(`
- inference_id: emb
  service: svcA
  task_type: text_embedding
`), 0o600))

	got, err := LoadFile(mapped)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, inference.TaskCompletion, got[0].TaskType)
	assert.Equal(t, "gpt-4o-mini", got[0].ServiceSettings["model_id"])
	assert.Equal(t, 0.1, got[0].TaskSettings["temperature"])

	got, err = LoadFile(list)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, inference.TaskTextEmbedding, got[0].TaskType)

	_, err = Decode([]byte("- inference_id: x\n  task_type: nope\n"))
	assert.Error(t, err)
}

func TestSaveFile_MergesIntoExistingCatalogue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "endpoints.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
endpoints:
  - inference_id: keep
    service: svcA
    task_type: rerank
  - inference_id: e1
    service: old
    task_type: completion
`), 0o600))

	updated := e1()
	added := inference.UnparsedModel{InferenceID: "new", Service: "svcB", TaskType: inference.TaskSparseEmbedding}
	require.NoError(t, SaveFile(path, []inference.UnparsedModel{updated, added}))

	got, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "keep", got[0].InferenceID)
	assert.Equal(t, "e1", got[1].InferenceID)
	assert.Equal(t, "svcA", got[1].Service)
	assert.Equal(t, "m", got[1].ServiceSettings["model_id"])
	assert.Equal(t, "new", got[2].InferenceID)
	assert.Equal(t, inference.TaskSparseEmbedding, got[2].TaskType)
}

func TestSaveFile_CreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.yaml")
	require.NoError(t, SaveFile(path, []inference.UnparsedModel{e1()}))

	got, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, inference.TaskCompletion, got[0].TaskType)
}
