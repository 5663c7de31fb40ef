package content

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"morningbot/internal/rotator"
)

// seqRand returns scripted values in order.
type seqRand struct {
	mu   sync.Mutex
	vals []int
}

func (s *seqRand) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.vals) == 0 {
		return 0
	}
	v := s.vals[0]
	s.vals = s.vals[1:]
	return v % n
}

type fakeQuotes struct {
	q     Quote
	err   error
	calls atomic.Int32
}

func (f *fakeQuotes) FetchQuote(context.Context) (Quote, error) {
	f.calls.Add(1)
	return f.q, f.err
}

type fakeImages struct {
	url string
	err error
}

func (f *fakeImages) FetchImageURL(context.Context) (string, error) { return f.url, f.err }

type fakeFallback struct {
	fb  rotator.Fallback
	err error
	n   int
}

func (f *fakeFallback) Next(context.Context, time.Time) (rotator.Fallback, error) {
	f.n++
	return f.fb, f.err
}

type fetchLog struct {
	mu  sync.Mutex
	got []string
}

func (l *fetchLog) Fetched(source string, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ok {
		l.got = append(l.got, source+":ok")
	} else {
		l.got = append(l.got, source+":fail")
	}
}

var today = time.Date(2024, 5, 14, 7, 0, 0, 0, time.UTC)

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Sticker ")
	require.NoError(t, err)
	require.Equal(t, ModeSticker, m)

	_, err = ParseMode("video")
	require.Error(t, err)
}

func TestGreetingAndQuoteFormat(t *testing.T) {
	require.Equal(t, "🌅 Good Morning!", Greeting("xx"))
	require.Equal(t, "🌅 Guten Morgen!", Greeting("de-AT"))
	require.False(t, SupportedLanguage("pt"))
	require.False(t, SupportedLanguage("deadbeef"))
	require.Equal(t, "en", NormalizeLanguage("en_US"))
	require.Equal(t, "english", NormalizeLanguage(" English "))

	got := FormatQuote("en", Quote{Text: "Be kind.", Author: "Anon"})
	require.Equal(t, "🌅 Good Morning!\n\n“Be kind.”\n— Anon", got)
}

func TestResolveTextUsesQuote(t *testing.T) {
	obs := &fetchLog{}
	r := NewResolver(Config{}, Deps{
		Quotes:   &fakeQuotes{q: Quote{Text: "Rise.", Author: "Sun"}},
		Fallback: &fakeFallback{},
		Observer: obs,
	})
	p, err := r.Resolve(context.Background(), ModeText, "en", today)
	require.NoError(t, err)
	require.Equal(t, KindText, p.Kind)
	require.False(t, p.Fallback)
	require.Contains(t, p.Text, "“Rise.”")
	require.Equal(t, []string{"quote:ok"}, obs.got)
}

func TestResolveTextFallsBackOnFetchError(t *testing.T) {
	fb := &fakeFallback{fb: rotator.Fallback{Message: "Have a bright day", Image: "https://img/1.jpg"}}
	obs := &fetchLog{}
	r := NewResolver(Config{}, Deps{
		Quotes:   &fakeQuotes{err: &FetchError{Source: "quote", Err: errors.New("timeout")}},
		Fallback: fb,
		Observer: obs,
	})
	p, err := r.Resolve(context.Background(), ModeText, "en", today)
	require.NoError(t, err)
	require.Equal(t, Payload{Kind: KindText, Text: "Have a bright day", Fallback: true, Source: "fallback"}, p)
	require.Equal(t, 1, fb.n)
	require.Equal(t, []string{"quote:fail"}, obs.got)
}

func TestResolveImageCaption(t *testing.T) {
	r := NewResolver(Config{}, Deps{Images: &fakeImages{url: "https://img/sun.jpg"}})
	p, err := r.Resolve(context.Background(), ModeImage, "fr", today)
	require.NoError(t, err)
	require.Equal(t, KindPhoto, p.Kind)
	require.Equal(t, "https://img/sun.jpg", p.ImageURL)
	require.Equal(t, "🌅 Bonjour !", p.Caption)

	r = NewResolver(Config{Caption: "Rise and shine"}, Deps{
		Images:   &fakeImages{err: errors.New("503")},
		Fallback: &fakeFallback{fb: rotator.Fallback{Message: "m", Image: "https://img/fb.jpg"}},
	})
	p, err = r.Resolve(context.Background(), ModeImage, "fr", today)
	require.NoError(t, err)
	require.True(t, p.Fallback)
	require.Equal(t, "https://img/fb.jpg", p.ImageURL)
	require.Equal(t, "Rise and shine", p.Caption)
}

func TestResolveFallbackFailurePropagates(t *testing.T) {
	r := NewResolver(Config{}, Deps{
		Quotes:   &fakeQuotes{err: errors.New("down")},
		Fallback: &fakeFallback{err: rotator.ErrEmptyPool},
	})
	_, err := r.Resolve(context.Background(), ModeText, "en", today)
	require.ErrorIs(t, err, rotator.ErrEmptyPool)
}

func TestResolveSticker(t *testing.T) {
	r := NewResolver(Config{Stickers: []string{"s1", "s2", "s3"}}, Deps{Rand: &seqRand{vals: []int{2}}})
	p, err := r.Resolve(context.Background(), ModeSticker, "en", today)
	require.NoError(t, err)
	require.Equal(t, Payload{Kind: KindSticker, StickerID: "s3", Source: "stickers"}, p)
}

func TestResolveMixed(t *testing.T) {
	deps := func(vals ...int) Deps {
		return Deps{
			Quotes: &fakeQuotes{q: Quote{Text: "q"}},
			Images: &fakeImages{url: "https://img/x.jpg"},
			Rand:   &seqRand{vals: vals},
		}
	}
	cfg := Config{MixedStickers: []string{"mixed-only"}}

	// heads, heads: text
	p, err := NewResolver(cfg, deps(0, 0)).Resolve(context.Background(), ModeMixed, "en", today)
	require.NoError(t, err)
	require.Equal(t, KindText, p.Kind)

	// heads, tails: image
	p, err = NewResolver(cfg, deps(0, 1)).Resolve(context.Background(), ModeMixed, "en", today)
	require.NoError(t, err)
	require.Equal(t, KindPhoto, p.Kind)

	// tails: mixed sticker set
	p, err = NewResolver(cfg, deps(1)).Resolve(context.Background(), ModeMixed, "en", today)
	require.NoError(t, err)
	require.Equal(t, Payload{Kind: KindSticker, StickerID: "mixed-only", Source: "mixed_stickers"}, p)
}

func TestHTTPFetcherQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"q":"Start where you are.","a":"Arthur Ashe","h":"<b>x</b>"}]`))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, srv.URL, time.Second)
	q, err := f.FetchQuote(context.Background())
	require.NoError(t, err)
	require.Equal(t, Quote{Text: "Start where you are.", Author: "Arthur Ashe"}, q)
}

func TestHTTPFetcherErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/empty":
			_, _ = w.Write([]byte(`[]`))
		case "/slow":
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte(`[{"q":"late"}]`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	for _, path := range []string{"/empty", "/slow", "/down"} {
		f := NewHTTPFetcher(srv.URL+path, srv.URL+path, 50*time.Millisecond)
		_, err := f.FetchQuote(context.Background())
		require.ErrorIs(t, err, ErrFetch, path)
		var fe *FetchError
		require.ErrorAs(t, err, &fe)
		require.Equal(t, "quote", fe.Source)
	}
}

func TestHTTPFetcherImageFollowsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/featured", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/photo-123.jpg", http.StatusFound)
	})
	mux.HandleFunc("/photo-123.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xff, 0xd8})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewHTTPFetcher("", srv.URL+"/featured", time.Second)
	u, err := f.FetchImageURL(context.Background())
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/photo-123.jpg", u)
}

func TestQuoteCacheSharesOneFetchPerDay(t *testing.T) {
	up := &fakeQuotes{q: Quote{Text: "once"}}
	now := today
	c := NewQuoteCache(up, 4, func() time.Time { return now })

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.FetchQuote(context.Background())
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, up.calls.Load())

	now = today.Add(24 * time.Hour)
	_, err := c.FetchQuote(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, up.calls.Load())
}

func TestQuoteCacheDoesNotCacheFailures(t *testing.T) {
	up := &fakeQuotes{err: errors.New("down")}
	c := NewQuoteCache(up, 0, func() time.Time { return today })
	_, err := c.FetchQuote(context.Background())
	require.Error(t, err)
	_, err = c.FetchQuote(context.Background())
	require.Error(t, err)
	require.EqualValues(t, 2, up.calls.Load())
}
