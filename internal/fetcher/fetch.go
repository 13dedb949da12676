// Package fetcher reads playlist bytes from HTTP or disk and hands them to
// the m3u parser.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/voyagen/m3uvault/internal/m3u"
	"github.com/voyagen/m3uvault/internal/models"
)

const (
	DefaultUserAgent = "m3uvault/1.0"
	DefaultTimeout   = 30 * time.Second
)

var (
	// ErrUnsupportedScheme is returned for URLs that are neither http(s) nor file.
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
	// ErrTooLarge is returned once a playlist exceeds the configured size limit.
	ErrTooLarge = errors.New("playlist exceeds size limit")
)

// StatusError is returned when the upstream answers with a non-200 status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// Fetcher downloads playlists. The zero value is not usable; call New.
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithMaxBytes caps the decoded playlist size. Zero disables the limit.
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) { f.maxBytes = n }
}

// WithHTTPClient replaces the default client (the timeout is then the caller's concern).
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// New returns a Fetcher sending userAgent on every request.
func New(userAgent string, timeout time.Duration, opts ...Option) *Fetcher {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	f := &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch opens the playlist at rawURL. userAgent overrides the fetcher default
// when non-empty. The returned body is decompressed and UTF-8; the caller
// must close it.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, userAgent string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	var raw io.ReadCloser
	switch u.Scheme {
	case "http", "https":
		raw, err = f.get(ctx, rawURL, userAgent)
	case "file":
		raw, err = os.Open(u.Path)
	case "":
		raw, err = os.Open(rawURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if err != nil {
		return nil, err
	}

	body, err := decode(raw)
	if err != nil {
		raw.Close()
		return nil, err
	}
	if f.maxBytes > 0 {
		body = &limitedBody{ReadCloser: body, remaining: f.maxBytes}
	}
	return body, nil
}

// FetchLives fetches rawURL and parses it, tagging records with subscriptionURL.
func (f *Fetcher) FetchLives(ctx context.Context, rawURL, userAgent, subscriptionURL string, opts ...m3u.Option) ([]models.Live, m3u.Stats, error) {
	body, err := f.Fetch(ctx, rawURL, userAgent)
	if err != nil {
		return nil, m3u.Stats{}, err
	}
	defer body.Close()
	return m3u.Parse(body, subscriptionURL, opts...)
}

func (f *Fetcher) get(ctx context.Context, rawURL, userAgent string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("NewRequest: %w", err)
	}
	if userAgent == "" {
		userAgent = f.userAgent
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Do: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}

type limitedBody struct {
	io.ReadCloser
	remaining int64
}

func (l *limitedBody) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		// One more byte tells EOF apart from an oversized body.
		var one [1]byte
		n, err := l.ReadCloser.Read(one[:])
		if n > 0 {
			return 0, ErrTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.ReadCloser.Read(p)
	l.remaining -= int64(n)
	return n, err
}
