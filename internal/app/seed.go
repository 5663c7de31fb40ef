package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"morningbot/internal/config"
	"morningbot/internal/registry"
	"morningbot/internal/rotator"
	"morningbot/internal/storage"
	logx "morningbot/pkg/logx"
)

// seedStore imports the configured seed files for documents the store does
// not have yet. Existing documents are never overwritten.
func seedStore(ctx context.Context, st storage.Store, sc config.SeedConfig, log logx.Logger) error {
	if path := strings.TrimSpace(sc.FallbackFile); path != "" {
		err := seedDocument(ctx, st, storage.DocFallback, path, log, func() (any, error) {
			var pools rotator.Pools
			if err := config.DecodeFile(path, &pools); err != nil {
				return nil, err
			}
			if len(pools.Messages) == 0 || len(pools.ImageURLs) == 0 {
				return nil, fmt.Errorf("%s: messages and image_urls must both be non-empty", path)
			}
			return pools, nil
		})
		if err != nil {
			return err
		}
	}
	if path := strings.TrimSpace(sc.FestivalsFile); path != "" {
		err := seedDocument(ctx, st, storage.DocFestivals, path, log, func() (any, error) {
			var fest map[string]string
			if err := config.DecodeFile(path, &fest); err != nil {
				return nil, err
			}
			for day := range fest {
				if _, err := time.Parse(registry.FestivalLayout, day); err != nil {
					return nil, fmt.Errorf("%s: festival key %q is not MM-DD", path, day)
				}
			}
			return fest, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func seedDocument(ctx context.Context, st storage.Store, name, path string, log logx.Logger, read func() (any, error)) error {
	var existing json.RawMessage
	found, err := st.Load(ctx, name, &existing)
	if err != nil {
		return err
	}
	if found {
		log.Debug("seed skipped; document exists", logx.String("document", name))
		return nil
	}
	doc, err := read()
	if err != nil {
		return fmt.Errorf("seed %s: %w", name, err)
	}
	if err := st.Save(ctx, name, doc); err != nil {
		return err
	}
	log.Info("store seeded", logx.String("document", name), logx.String("file", path))
	return nil
}
