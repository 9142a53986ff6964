package store

import (
	"context"

	"github.com/dunamismax/imagehandler/internal/domain"
)

// TransformStore keeps the audit log of completed transforms.
type TransformStore interface {
	Record(ctx context.Context, rec domain.TransformRecord) error
	Get(ctx context.Context, id string) (domain.TransformRecord, bool, error)
}

// Open returns the postgres store for dsn, or a memory store holding at most
// memoryRecords records when dsn is empty. The returned func releases the
// store.
func Open(ctx context.Context, dsn string, memoryRecords int) (TransformStore, func() error, error) {
	if dsn == "" {
		return NewMemoryTransformStoreWithCapacity(memoryRecords), func() error { return nil }, nil
	}

	pg, err := NewPostgresTransformStore(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}
