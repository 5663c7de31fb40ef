package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	logx "morningbot/pkg/logx"
)

var bucketDocuments = []byte("documents")

type boltStore struct {
	db     *bolt.DB
	log    logx.Logger
	bucket []byte
}

func openBolt(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required when storage.driver=bolt")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	bkt := []byte(sanitizePrefix(cfg.TablePrefix) + string(bucketDocuments))
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bkt)
		return e
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("bolt store opened", logx.String("path", path), logx.String("bucket", string(bkt)))
	return &boltStore{db: db, log: log, bucket: bkt}, nil
}

func (s *boltStore) Load(ctx context.Context, name string, v any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, loadErr(name, err)
	}
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(s.bucket).Get([]byte(name)); b != nil {
			// Values are only valid inside the transaction.
			raw = append([]byte(nil), b...)
		}
		return nil
	})
	if err != nil {
		return false, loadErr(name, err)
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, loadErr(name, err)
	}
	return true, nil
}

func (s *boltStore) Save(ctx context.Context, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return saveErr(name, err)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return saveErr(name, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(name), b)
	})
	return saveErr(name, err)
}

func (s *boltStore) Close() error { return s.db.Close() }
