package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"traffic-router/internal/config"
	"traffic-router/internal/engine"
)

// Postgres is the alternate backend: targets as JSONB rows, counts as a
// bigint column bumped in a single statement so the increment stays atomic
// per target inside the database.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, cfg config.Config) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	s := &Postgres{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Postgres) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS targets (
			id  TEXT PRIMARY KEY,
			doc JSONB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS traffic (
			target_id TEXT PRIMARY KEY,
			accepts   BIGINT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Postgres) Upsert(ctx context.Context, t engine.Target) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal target %q: %w", t.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO targets (id, doc) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc
	`, t.ID, doc)
	if err != nil {
		return fmt.Errorf("upsert target %q: %w", t.ID, err)
	}
	return nil
}

func (s *Postgres) List(ctx context.Context) ([]engine.Target, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM targets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer rows.Close()

	out := []engine.Target{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan target row: %w", err)
		}
		var t engine.Target
		if err := json.Unmarshal(doc, &t); err != nil {
			return nil, fmt.Errorf("unmarshal stored target: %w", err)
		}
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (s *Postgres) Get(ctx context.Context, id string) (engine.Target, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM targets WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.Target{}, engine.ErrNotFound
	}
	if err != nil {
		return engine.Target{}, fmt.Errorf("query target %q: %w", id, err)
	}
	var t engine.Target
	if err := json.Unmarshal(doc, &t); err != nil {
		return engine.Target{}, fmt.Errorf("unmarshal target %q: %w", id, err)
	}
	return t, nil
}

func (s *Postgres) Count(ctx context.Context, id string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT accepts FROM traffic WHERE target_id = $1`, id).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query traffic %q: %w", id, err)
	}
	return n, nil
}

func (s *Postgres) Increment(ctx context.Context, id string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO traffic (target_id, accepts) VALUES ($1, 1)
		ON CONFLICT (target_id) DO UPDATE SET accepts = traffic.accepts + 1
		RETURNING accepts
	`, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("increment traffic %q: %w", id, err)
	}
	return n, nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
