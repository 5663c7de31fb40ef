package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStore is matched by every StoreError.
var ErrStore = errors.New("store error")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// StoreError reports a failed persistence operation on a named document.
type StoreError struct {
	Op   string // "load" | "save"
	Name string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

func loadErr(name string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: "load", Name: name, Err: err}
}

func saveErr(name string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: "save", Name: name, Err: err}
}

// Store persists named JSON documents.
type Store interface {
	// Load decodes the document into v. If the document does not exist, v is
	// left untouched (it holds the caller's default) and found is false.
	Load(ctx context.Context, name string, v any) (found bool, err error)
	// Save replaces the whole document with the JSON encoding of v.
	Save(ctx context.Context, name string, v any) error
	Close() error
}

// Config configures storage.
//
// Driver values: "file", "sqlite", "bolt", "postgres", "memory".
type Config struct {
	Driver      string
	Path        string        // file: directory; sqlite/bolt: database file
	DSN         string        // postgres connection string
	TablePrefix string        // sqlite/postgres table prefix, bolt bucket prefix
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Document names. They match the JSON file basenames used by earlier
// deployments so the file driver can be pointed at an existing data directory.
const (
	DocGroupTimes     = "group_times"
	DocGroupModes     = "group_modes"
	DocGroupLanguages = "group_languages"
	DocSkipGroups     = "skip_groups"
	DocFallback       = "fallback_messages_and_images"
	DocFallbackCursor = "fallback_index_tracker"
	DocFestivals      = "festivals"
)
