package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cove-indexer/internal/entity"
)

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS entities (
        kind       TEXT        NOT NULL,
        id         TEXT        NOT NULL,
        sort_key   BIGINT      NOT NULL DEFAULT 0,
        data       JSONB       NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (kind, id)
    );`

	createSortIndexSQL = `CREATE INDEX IF NOT EXISTS entities_kind_sort_key_idx ON entities (kind, sort_key);`

	upsertEntitySQL = `INSERT INTO entities (
        kind,
        id,
        sort_key,
        data
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (kind, id) DO UPDATE
    SET
        sort_key   = EXCLUDED.sort_key,
        data       = EXCLUDED.data,
        updated_at = now();`

	getEntitySQL = `SELECT data FROM entities WHERE kind = $1 AND id = $2;`

	listEntitiesAscSQL = `SELECT data
    FROM entities
    WHERE kind = $1
      AND sort_key >= $2
      AND sort_key <= $3
    ORDER BY sort_key, id
    LIMIT $4;`

	listEntitiesDescSQL = `SELECT data
    FROM entities
    WHERE kind = $1
      AND sort_key >= $2
      AND sort_key <= $3
    ORDER BY sort_key DESC, id
    LIMIT $4;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Postgres stores entities as JSONB documents keyed by (kind, id).
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wires a pgx pool into a Backend.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Postgres) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the entities table when missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range []string{createSchemaSQL, createSortIndexSQL} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Postgres) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session lock also drops when the connection closes
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// Get loads the raw document for (kind, id).
func (s *Postgres) Get(ctx context.Context, kind entity.Kind, id string) ([]byte, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	var data []byte
	if err := pool.QueryRow(ctx, getEntitySQL, string(kind), id).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get entity: %w", err)
	}
	return data, true, nil
}

// Commit upserts all records inside one transaction.
func (s *Postgres) Commit(ctx context.Context, records []Record) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, rec := range records {
			batch.Queue(upsertEntitySQL, string(rec.Kind), rec.ID, rec.SortKey, rec.Data)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert entities: %w", err)
		}
		return nil
	})
}

// List returns documents of kind whose sort key lies in the requested range.
func (s *Postgres) List(ctx context.Context, kind entity.Kind, opts ListOptions) ([][]byte, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	query := listEntitiesAscSQL
	if opts.Desc {
		query = listEntitiesDescSQL
	}

	var limit interface{}
	if opts.Limit > 0 {
		limit = opts.Limit
	}

	rows, queryErr := pool.Query(ctx, query, string(kind), opts.From, opts.To, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list entities: %w", queryErr)
	}
	defer rows.Close()

	docs := make([][]byte, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		docs = append(docs, data)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return docs, nil
}

var (
	_ Backend        = (*Postgres)(nil)
	_ AdvisoryLocker = (*Postgres)(nil)
)
