package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"cove-indexer/internal/entity"
)

// Fetch loads a single entity of any kind outside of a session.
func Fetch(ctx context.Context, backend Backend, kind entity.Kind, id string) (entity.Entity, bool, error) {
	if backend == nil {
		return nil, false, ErrNotConfigured
	}
	data, found, err := backend.Get(ctx, kind, id)
	if err != nil {
		return nil, false, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	if !found {
		return nil, false, nil
	}

	value, err := entity.New(kind)
	if err != nil {
		return nil, false, err
	}
	if err := json.Unmarshal(data, value); err != nil {
		return nil, false, fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	return value, true, nil
}

// ListPoolStatuses lists rollup buckets of the given kind ordered by From.
func ListPoolStatuses(ctx context.Context, backend Backend, kind entity.Kind, opts ListOptions) ([]entity.PoolStatus, error) {
	if kind != entity.KindHourlyPoolStatus && kind != entity.KindDailyPoolStatus {
		return nil, fmt.Errorf("%s is not a pool status kind", kind)
	}
	if backend == nil {
		return nil, ErrNotConfigured
	}

	docs, err := backend.List(ctx, kind, opts)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}

	statuses := make([]entity.PoolStatus, 0, len(docs))
	for _, doc := range docs {
		var status entity.PoolStatus
		if err := json.Unmarshal(doc, &status); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
