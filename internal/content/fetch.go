package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrFetch is matched by every FetchError.
var ErrFetch = errors.New("fetch failed")

// FetchError reports an unavailable upstream content source.
type FetchError struct {
	Source string // "quote" | "image"
	Err    error
}

func (e *FetchError) Error() string { return fmt.Sprintf("%s fetch: %v", e.Source, e.Err) }

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// Quote is a single quote from the upstream provider.
type Quote struct {
	Text   string `json:"q"`
	Author string `json:"a"`
}

type QuoteFetcher interface {
	FetchQuote(ctx context.Context) (Quote, error)
}

type ImageFetcher interface {
	FetchImageURL(ctx context.Context) (string, error)
}

const (
	DefaultQuoteURL     = "https://zenquotes.io/api/today"
	DefaultImageURL     = "https://source.unsplash.com/featured/?good-morning"
	DefaultFetchTimeout = 5 * time.Second
)

// HTTPFetcher fetches quotes and images over HTTP. Every call is bounded by
// Timeout so a stalled upstream cannot hold a worker.
type HTTPFetcher struct {
	QuoteURL string
	ImageURL string
	Timeout  time.Duration
	Client   *http.Client
}

func NewHTTPFetcher(quoteURL, imageURL string, timeout time.Duration) *HTTPFetcher {
	if strings.TrimSpace(quoteURL) == "" {
		quoteURL = DefaultQuoteURL
	}
	if strings.TrimSpace(imageURL) == "" {
		imageURL = DefaultImageURL
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &HTTPFetcher{
		QuoteURL: quoteURL,
		ImageURL: imageURL,
		Timeout:  timeout,
		Client:   &http.Client{Timeout: timeout},
	}
}

func (f *HTTPFetcher) get(ctx context.Context, url string) (*http.Response, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("User-Agent", "morningbot/1.0")
	resp, err := f.Client.Do(req)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		cancel()
		return nil, nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp, cancel, nil
}

// FetchQuote reads the first quote of a JSON array response.
func (f *HTTPFetcher) FetchQuote(ctx context.Context) (Quote, error) {
	resp, cancel, err := f.get(ctx, f.QuoteURL)
	if err != nil {
		return Quote{}, &FetchError{Source: "quote", Err: err}
	}
	defer cancel()
	defer resp.Body.Close()

	var qs []Quote
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&qs); err != nil {
		return Quote{}, &FetchError{Source: "quote", Err: fmt.Errorf("decode: %w", err)}
	}
	if len(qs) == 0 || strings.TrimSpace(qs[0].Text) == "" {
		return Quote{}, &FetchError{Source: "quote", Err: errors.New("empty response")}
	}
	return qs[0], nil
}

// FetchImageURL checks that the image endpoint answers and returns the URL
// the request finally landed on (the endpoint redirects to a concrete image).
func (f *HTTPFetcher) FetchImageURL(ctx context.Context) (string, error) {
	resp, cancel, err := f.get(ctx, f.ImageURL)
	if err != nil {
		return "", &FetchError{Source: "image", Err: err}
	}
	defer cancel()
	resp.Body.Close()

	if resp.Request != nil && resp.Request.URL != nil {
		return resp.Request.URL.String(), nil
	}
	return f.ImageURL, nil
}
