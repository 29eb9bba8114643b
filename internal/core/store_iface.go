package core

import (
	"context"
	"errors"

	"github.com/dkeye/consult/internal/domain"
)

var ErrRecordNotFound = errors.New("call record not found")

// CallRecordStore persists one lifecycle record per session.
type CallRecordStore interface {
	Get(ctx context.Context, sid domain.SessionID) (*domain.CallRecord, error)
	Save(ctx context.Context, rec *domain.CallRecord) error
}
