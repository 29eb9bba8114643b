// Package store keeps call records in memory or in Postgres.
package store

import (
	"context"
	"sync"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
)

type Memory struct {
	mu      sync.RWMutex
	records map[domain.SessionID]domain.CallRecord
}

func NewMemory() *Memory {
	return &Memory{records: make(map[domain.SessionID]domain.CallRecord)}
}

func (m *Memory) Get(_ context.Context, sid domain.SessionID) (*domain.CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[sid]
	if !ok {
		return nil, core.ErrRecordNotFound
	}
	return &rec, nil
}

func (m *Memory) Save(_ context.Context, rec *domain.CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.SessionID] = *rec
	return nil
}
