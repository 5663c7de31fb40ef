// Package rotator owns the daily-rotating fallback content.
//
// A single cursor is shared by every group: the first consultation on a new
// calendar date advances both indices by one, every later consultation that
// day returns the same pair.
package rotator

import (
	"context"
	"errors"
	"sync"
	"time"

	"morningbot/internal/storage"
	logx "morningbot/pkg/logx"
)

// DateLayout is the calendar-date format stored in the cursor.
const DateLayout = "2006-01-02"

// ErrEmptyPool means a fallback pool has no entries. Rotation cannot proceed;
// this is a configuration error.
var ErrEmptyPool = errors.New("fallback pool is empty")

// Pools holds the fixed fallback content.
type Pools struct {
	Messages  []string `json:"messages"`
	ImageURLs []string `json:"image_urls"`
}

// Cursor is the persisted rotation state.
type Cursor struct {
	LastUsedDate string `json:"last_used_date"`
	MessageIndex int    `json:"message_index"`
	ImageIndex   int    `json:"image_index"`
}

// Fallback is the pair handed out for a date.
type Fallback struct {
	Message string
	Image   string
}

// Observer is notified after each advance. Metrics implement it.
type Observer interface {
	FallbackRotated()
}

type Rotator struct {
	store storage.Store
	log   logx.Logger
	obs   Observer

	mu     sync.Mutex
	pools  Pools
	cursor Cursor
}

// Load reads pools and cursor from the store. Missing documents yield empty
// pools and a zero cursor.
func Load(ctx context.Context, st storage.Store, log logx.Logger, obs Observer) (*Rotator, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Rotator{store: st, log: log, obs: obs}
	pools := Pools{Messages: []string{}, ImageURLs: []string{}}
	if _, err := st.Load(ctx, storage.DocFallback, &pools); err != nil {
		return nil, err
	}
	var cur Cursor
	if _, err := st.Load(ctx, storage.DocFallbackCursor, &cur); err != nil {
		return nil, err
	}
	r.pools = pools
	r.cursor = cur
	if len(pools.Messages) == 0 || len(pools.ImageURLs) == 0 {
		log.Warn("fallback pools incomplete; upstream failures will not be recoverable",
			logx.Int("messages", len(pools.Messages)), logx.Int("images", len(pools.ImageURLs)))
	}
	return r, nil
}

// Next returns today's fallback pair, advancing the cursor if today is a new
// date. A failed cursor write is logged; the advanced pair is still returned
// so the firing can be delivered.
func (r *Rotator) Next(ctx context.Context, today time.Time) (Fallback, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nm, ni := len(r.pools.Messages), len(r.pools.ImageURLs)
	if nm == 0 || ni == 0 {
		return Fallback{}, ErrEmptyPool
	}

	date := today.Format(DateLayout)
	if r.cursor.LastUsedDate != date {
		r.cursor.MessageIndex = mod(r.cursor.MessageIndex+1, nm)
		r.cursor.ImageIndex = mod(r.cursor.ImageIndex+1, ni)
		r.cursor.LastUsedDate = date
		if err := r.store.Save(ctx, storage.DocFallbackCursor, r.cursor); err != nil {
			r.log.Error("fallback cursor persist failed", logx.String("date", date), logx.Err(err))
		} else {
			r.log.Debug("fallback cursor advanced",
				logx.String("date", date),
				logx.Int("message_index", r.cursor.MessageIndex),
				logx.Int("image_index", r.cursor.ImageIndex))
		}
		if r.obs != nil {
			r.obs.FallbackRotated()
		}
	}

	// Indices may be stale if the pools shrank since the cursor was written.
	return Fallback{
		Message: r.pools.Messages[mod(r.cursor.MessageIndex, nm)],
		Image:   r.pools.ImageURLs[mod(r.cursor.ImageIndex, ni)],
	}, nil
}

// Cursor returns a copy of the current cursor.
func (r *Rotator) Cursor() Cursor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// PoolSizes reports the number of fallback messages and images.
func (r *Rotator) PoolSizes() (messages, images int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pools.Messages), len(r.pools.ImageURLs)
}

func mod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
