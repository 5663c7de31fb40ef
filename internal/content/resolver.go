package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"morningbot/internal/rotator"
	logx "morningbot/pkg/logx"
)

// FallbackSource hands out the rotating fallback pair for a date.
type FallbackSource interface {
	Next(ctx context.Context, today time.Time) (rotator.Fallback, error)
}

// Observer receives fetch outcomes. Metrics implement it.
type Observer interface {
	Fetched(source string, ok bool)
}

type Config struct {
	// Caption overrides the localized photo caption when non-empty.
	Caption       string
	Stickers      []string
	MixedStickers []string
}

type Deps struct {
	Quotes   QuoteFetcher
	Images   ImageFetcher
	Fallback FallbackSource
	Logger   logx.Logger
	Observer Observer
	Rand     Rand
}

// Resolver turns a group's effective mode into a payload. Upstream failures
// are recovered here with the rotator's pair and logged once.
type Resolver struct {
	cfg  Config
	deps Deps
	log  logx.Logger
}

func NewResolver(cfg Config, deps Deps) *Resolver {
	if len(cfg.Stickers) == 0 {
		cfg.Stickers = DefaultStickers
	}
	if len(cfg.MixedStickers) == 0 {
		cfg.MixedStickers = DefaultMixedStickers
	}
	if deps.Rand == nil {
		deps.Rand = globalRand{}
	}
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{cfg: cfg, deps: deps, log: log}
}

// Resolve builds the payload for mode. Weekend and festival overrides are the
// caller's job; mode here is already the effective one.
//
// Mixed flips a fair coin: heads picks text or image with a second flip,
// tails sends a sticker from the mixed set.
func (r *Resolver) Resolve(ctx context.Context, mode Mode, lang string, today time.Time) (Payload, error) {
	switch mode {
	case ModeText:
		return r.text(ctx, lang, today)
	case ModeImage:
		return r.image(ctx, lang, today)
	case ModeSticker:
		return Payload{Kind: KindSticker, StickerID: pick(r.deps.Rand, r.cfg.Stickers), Source: "stickers"}, nil
	case ModeMixed:
		if r.deps.Rand.IntN(2) == 0 {
			if r.deps.Rand.IntN(2) == 0 {
				return r.text(ctx, lang, today)
			}
			return r.image(ctx, lang, today)
		}
		return Payload{Kind: KindSticker, StickerID: pick(r.deps.Rand, r.cfg.MixedStickers), Source: "mixed_stickers"}, nil
	default:
		return Payload{}, fmt.Errorf("unknown mode %q", mode)
	}
}

func (r *Resolver) text(ctx context.Context, lang string, today time.Time) (Payload, error) {
	if r.deps.Quotes != nil {
		q, err := r.deps.Quotes.FetchQuote(ctx)
		r.observe("quote", err == nil)
		if err == nil {
			return Payload{Kind: KindText, Text: FormatQuote(lang, q), Source: "quote"}, nil
		}
		r.log.Warn("quote fetch failed; using fallback", logx.Err(err))
	}
	fb, err := r.fallback(ctx, today)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Kind: KindText, Text: fb.Message, Fallback: true, Source: "fallback"}, nil
}

func (r *Resolver) image(ctx context.Context, lang string, today time.Time) (Payload, error) {
	caption := r.caption(lang)
	if r.deps.Images != nil {
		url, err := r.deps.Images.FetchImageURL(ctx)
		r.observe("image", err == nil)
		if err == nil {
			return Payload{Kind: KindPhoto, ImageURL: url, Caption: caption, Source: "image"}, nil
		}
		r.log.Warn("image fetch failed; using fallback", logx.Err(err))
	}
	fb, err := r.fallback(ctx, today)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Kind: KindPhoto, ImageURL: fb.Image, Caption: caption, Fallback: true, Source: "fallback"}, nil
}

func (r *Resolver) fallback(ctx context.Context, today time.Time) (rotator.Fallback, error) {
	if r.deps.Fallback == nil {
		return rotator.Fallback{}, errors.New("no fallback source configured")
	}
	fb, err := r.deps.Fallback.Next(ctx, today)
	if err != nil {
		return rotator.Fallback{}, fmt.Errorf("fallback: %w", err)
	}
	return fb, nil
}

func (r *Resolver) caption(lang string) string {
	if c := strings.TrimSpace(r.cfg.Caption); c != "" {
		return c
	}
	return Greeting(lang)
}

func (r *Resolver) observe(source string, ok bool) {
	if r.deps.Observer != nil {
		r.deps.Observer.Fetched(source, ok)
	}
}
