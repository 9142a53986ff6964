package store

import (
	"context"
	"errors"
	"strings"

	"github.com/dunamismax/imagehandler/internal/domain"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemoryRecords bounds a memory store created without an explicit
// capacity.
const DefaultMemoryRecords = 10000

// MemoryTransformStore keeps the most recently written records up to a fixed
// capacity and evicts the least recently used beyond it.
type MemoryTransformStore struct {
	records *lru.Cache[string, domain.TransformRecord]
}

func NewMemoryTransformStore() *MemoryTransformStore {
	return NewMemoryTransformStoreWithCapacity(DefaultMemoryRecords)
}

// NewMemoryTransformStoreWithCapacity falls back to DefaultMemoryRecords when
// capacity is not positive.
func NewMemoryTransformStoreWithCapacity(capacity int) *MemoryTransformStore {
	if capacity <= 0 {
		capacity = DefaultMemoryRecords
	}
	// lru.New only fails for a non-positive size.
	records, _ := lru.New[string, domain.TransformRecord](capacity)
	return &MemoryTransformStore{records: records}
}

// Record stores rec, replacing any earlier record with the same ID.
func (s *MemoryTransformStore) Record(_ context.Context, rec domain.TransformRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("record id is required")
	}
	s.records.Add(rec.ID, rec)
	return nil
}

func (s *MemoryTransformStore) Get(_ context.Context, id string) (domain.TransformRecord, bool, error) {
	rec, ok := s.records.Get(id)
	return rec, ok, nil
}

func (s *MemoryTransformStore) Len() int {
	return s.records.Len()
}
