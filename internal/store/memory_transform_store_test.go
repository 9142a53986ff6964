package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/imagehandler/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTransformStoreRecordAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTransformStore()

	rec := domain.TransformRecord{
		ID:        "exp-1",
		Origin:    domain.OriginExport,
		Bucket:    "photos",
		Key:       "cat.jpg",
		Edits:     "300X200",
		Status:    domain.TransformStatusFailed,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.Record(ctx, rec))

	got, ok, err := s.Get(ctx, "exp-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, got)

	rec.Status = domain.TransformStatusSucceeded
	require.NoError(t, s.Record(ctx, rec))
	got, _, _ = s.Get(ctx, "exp-1")
	assert.Equal(t, domain.TransformStatusSucceeded, got.Status)
	assert.Equal(t, 1, s.Len())

	_, ok, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryTransformStoreRequiresID(t *testing.T) {
	assert.Error(t, NewMemoryTransformStore().Record(context.Background(), domain.TransformRecord{}))
}

func TestMemoryTransformStoreConcurrentRecords(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTransformStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Record(ctx, domain.TransformRecord{ID: string(rune('a' + i%26)), Status: domain.TransformStatusSucceeded})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 26, s.Len())
}

func TestOpenWithoutDSNUsesMemory(t *testing.T) {
	s, closeFn, err := Open(context.Background(), "", 2)
	require.NoError(t, err)
	require.IsType(t, &MemoryTransformStore{}, s)
	assert.NoError(t, closeFn())

	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Record(ctx, domain.TransformRecord{ID: id}))
	}
	assert.Equal(t, 2, s.(*MemoryTransformStore).Len())
}

func TestMemoryTransformStoreEvictsBeyondCapacity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTransformStoreWithCapacity(3)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Record(ctx, domain.TransformRecord{ID: fmt.Sprintf("req-%d", i)}))
	}
	assert.Equal(t, 3, s.Len())

	_, ok, _ := s.Get(ctx, "req-0")
	assert.False(t, ok)
	for _, id := range []string{"req-7", "req-8", "req-9"} {
		_, ok, _ := s.Get(ctx, id)
		assert.True(t, ok, id)
	}

	// Rewriting a record keeps it alive past newer inserts.
	require.NoError(t, s.Record(ctx, domain.TransformRecord{ID: "req-7", Status: domain.TransformStatusSucceeded}))
	require.NoError(t, s.Record(ctx, domain.TransformRecord{ID: "req-10"}))
	require.NoError(t, s.Record(ctx, domain.TransformRecord{ID: "req-11"}))

	got, ok, _ := s.Get(ctx, "req-7")
	require.True(t, ok)
	assert.Equal(t, domain.TransformStatusSucceeded, got.Status)
	_, ok, _ = s.Get(ctx, "req-8")
	assert.False(t, ok)
}

func TestNewMemoryTransformStoreDefaultsCapacity(t *testing.T) {
	s := NewMemoryTransformStoreWithCapacity(0)
	require.NoError(t, s.Record(context.Background(), domain.TransformRecord{ID: "a"}))
	assert.Equal(t, 1, s.Len())
}
