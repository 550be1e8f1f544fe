package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/redis/go-redis/v9"

	"cove-indexer/internal/entity"
)

// Redis stores each entity as a string value and keeps a per-kind sorted set
// of ids scored by SortKey for range listings.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps an existing client. prefix namespaces every key.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) docKey(kind entity.Kind, id string) string {
	return r.prefix + string(kind) + ":" + id
}

func (r *Redis) indexKey(kind entity.Kind) string {
	return r.prefix + "idx:" + string(kind)
}

func (r *Redis) getClient() (*redis.Client, error) {
	if r == nil || r.client == nil {
		return nil, ErrNotConfigured
	}
	return r.client, nil
}

func (r *Redis) Get(ctx context.Context, kind entity.Kind, id string) ([]byte, bool, error) {
	client, err := r.getClient()
	if err != nil {
		return nil, false, err
	}

	data, err := client.Get(ctx, r.docKey(kind, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get entity: %w", err)
	}
	return data, true, nil
}

// Commit writes documents and index entries in a single MULTI/EXEC.
func (r *Redis) Commit(ctx context.Context, records []Record) error {
	client, err := r.getClient()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, rec := range records {
			pipe.Set(ctx, r.docKey(rec.Kind, rec.ID), rec.Data, 0)
			pipe.ZAdd(ctx, r.indexKey(rec.Kind), redis.Z{Score: float64(rec.SortKey), Member: rec.ID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert entities: %w", err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context, kind entity.Kind, opts ListOptions) ([][]byte, error) {
	client, err := r.getClient()
	if err != nil {
		return nil, err
	}

	rng := &redis.ZRangeBy{Min: scoreBound(opts.From, "-inf"), Max: scoreBound(opts.To, "+inf")}
	if opts.Limit > 0 {
		rng.Count = int64(opts.Limit)
	}

	var ids []string
	if opts.Desc {
		ids, err = client.ZRevRangeByScore(ctx, r.indexKey(kind), rng).Result()
	} else {
		ids, err = client.ZRangeByScore(ctx, r.indexKey(kind), rng).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	if len(ids) == 0 {
		return [][]byte{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.docKey(kind, id)
	}
	values, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load entities: %w", err)
	}

	docs := make([][]byte, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		docs = append(docs, []byte(s))
	}
	return docs, nil
}

func (r *Redis) Close() {
	if r == nil || r.client == nil {
		return
	}
	_ = r.client.Close()
}

func scoreBound(v int64, open string) string {
	if v == math.MinInt64 || v == math.MaxInt64 {
		return open
	}
	return strconv.FormatInt(v, 10)
}

var _ Backend = (*Redis)(nil)
