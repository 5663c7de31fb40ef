package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "morningbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db    *sql.DB
	log   logx.Logger
	table string
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required when storage.driver=sqlite")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	prefix := sanitizePrefix(cfg.TablePrefix)
	st := &sqliteStore{db: db, log: log, table: prefix + "documents"}
	if err := st.migrate(ctx, prefix); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path), logx.String("table", st.table))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context, prefix string) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	q := strings.ReplaceAll(string(b), "{{prefix}}", prefix)
	_, err = s.db.ExecContext(ctx, q)
	return err
}

func (s *sqliteStore) Load(ctx context.Context, name string, v any) (bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM `+s.table+` WHERE name = ?`, name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, loadErr(name, err)
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return false, loadErr(name, err)
	}
	return true, nil
}

func (s *sqliteStore) Save(ctx context.Context, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return saveErr(name, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+s.table+`(name, body, updated_at) VALUES(?,?,?)
		 ON CONFLICT(name) DO UPDATE SET body=excluded.body, updated_at=excluded.updated_at`,
		name, string(b), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return saveErr(name, err)
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// sanitizePrefix keeps table prefixes to identifier characters; they are
// spliced into SQL text.
func sanitizePrefix(p string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(p) {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
