package storage

import (
	"context"
	"errors"
	"math"

	"cove-indexer/internal/entity"
)

var (
	// ErrNotConfigured indicates the backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
)

// Record is the persisted form of one entity.
type Record struct {
	Kind    entity.Kind
	ID      string
	SortKey int64
	Data    []byte
}

// ListOptions bound a range listing over SortKey (inclusive on both ends).
type ListOptions struct {
	From  int64
	To    int64
	Limit int
	Desc  bool
}

// AllKeys lists the full SortKey range.
func AllKeys() ListOptions {
	return ListOptions{From: math.MinInt64, To: math.MaxInt64}
}

// Backend is the document store behind a Session: load by id and an atomic
// batch upsert. Deletion is not supported.
type Backend interface {
	Get(ctx context.Context, kind entity.Kind, id string) ([]byte, bool, error)
	Commit(ctx context.Context, records []Record) error
	List(ctx context.Context, kind entity.Kind, opts ListOptions) ([][]byte, error)
	Close()
}

// AdvisoryLocker exposes single-writer lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}
