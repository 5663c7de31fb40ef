package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "morningbot/pkg/logx"
)

// fileStore keeps one pretty-printed JSON file per document:
//
//	<dir>/<name>.json
//
// Writes go to a temp file in the same directory and are renamed over the
// target, so a crash never leaves a half-written document behind.
type fileStore struct {
	log logx.Logger
	dir string

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	log.Debug("file store opened", logx.String("dir", dir))
	return &fileStore{log: log, dir: dir}, nil
}

func (s *fileStore) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *fileStore) Load(ctx context.Context, name string, v any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, loadErr(name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, loadErr(name, ErrClosed)
	}

	b, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, loadErr(name, err)
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, loadErr(name, err)
	}
	return true, nil
}

func (s *fileStore) Save(ctx context.Context, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return saveErr(name, err)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return saveErr(name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return saveErr(name, ErrClosed)
	}

	target := s.path(name)
	f, err := os.CreateTemp(s.dir, "."+name+".*.tmp")
	if err != nil {
		return saveErr(name, err)
	}
	tmp := f.Name()
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return saveErr(name, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return saveErr(name, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return saveErr(name, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return saveErr(name, err)
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
