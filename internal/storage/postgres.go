package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "morningbot/pkg/logx"
)

type pgStore struct {
	pool  *pgxpool.Pool
	log   logx.Logger
	table string
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required when storage.driver=postgres")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	s := &pgStore{pool: pool, log: log, table: sanitizePrefix(cfg.TablePrefix) + "documents"}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Debug("postgres store opened", logx.String("table", s.table))
	return s, nil
}

func (s *pgStore) init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`create table if not exists %s (
		name text primary key,
		body jsonb not null,
		updated_at timestamptz not null default now()
	)`, s.table))
	return err
}

func (s *pgStore) Load(ctx context.Context, name string, v any) (bool, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`select body::text from %s where name=$1`, s.table), name,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, loadErr(name, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return false, loadErr(name, err)
	}
	return true, nil
}

func (s *pgStore) Save(ctx context.Context, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return saveErr(name, err)
	}
	_, err = s.pool.Exec(ctx,
		fmt.Sprintf(`insert into %s (name, body, updated_at) values ($1, $2::jsonb, now())
		 on conflict (name) do update set body=excluded.body, updated_at=excluded.updated_at`, s.table),
		name, string(b),
	)
	return saveErr(name, err)
}

func (s *pgStore) Close() error { s.pool.Close(); return nil }
