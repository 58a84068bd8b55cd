package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// MaxBodyBytes bounds a single feed download.
const MaxBodyBytes = 10 << 20

// Source is one ICS feed to import.
type Source struct {
	ID  string
	URL string
	// CategoryID receives occurrences whose CATEGORIES match nothing. Zero
	// means use the importer's default.
	CategoryID int
}

type cacheEntry struct {
	etag         string
	lastModified string
	body         []byte
}

// Fetcher downloads feeds over HTTP(S), honouring ETag and Last-Modified, or
// reads them from local paths and file:// URLs.
type Fetcher struct {
	client *http.Client

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client, cache: make(map[string]cacheEntry)}
}

// Fetch returns the body of src. When a conditional request answers 304 the
// previous body is returned.
func (f *Fetcher) Fetch(ctx context.Context, src Source) ([]byte, error) {
	if src.URL == "" {
		return nil, errors.New("source URL is empty")
	}

	u, err := url.Parse(src.URL)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Bare paths, including Windows drive letters.
		return readFile(src.URL)
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		return readFile(u.Path)
	case "http", "https", "webcal":
		return f.fetchHTTP(ctx, src.URL, u)
	default:
		return nil, fmt.Errorf("unsupported source scheme %q", u.Scheme)
	}
}

func (f *Fetcher) fetchHTTP(ctx context.Context, raw string, u *url.URL) ([]byte, error) {
	if strings.EqualFold(u.Scheme, "webcal") {
		u.Scheme = "https"
		raw = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	cached, hasCache := f.cache[raw]
	f.mu.Unlock()
	if hasCache {
		if cached.etag != "" {
			req.Header.Set("If-None-Match", cached.etag)
		}
		if cached.lastModified != "" {
			req.Header.Set("If-Modified-Since", cached.lastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", Redact(raw), err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", Redact(raw), err)
		}
		if len(body) > MaxBodyBytes {
			return nil, fmt.Errorf("fetch %s: body exceeds %d bytes", Redact(raw), MaxBodyBytes)
		}
		entry := cacheEntry{
			etag:         resp.Header.Get("ETag"),
			lastModified: resp.Header.Get("Last-Modified"),
			body:         body,
		}
		if entry.etag != "" || entry.lastModified != "" {
			f.mu.Lock()
			f.cache[raw] = entry
			f.mu.Unlock()
		}
		return body, nil
	case http.StatusNotModified:
		if !hasCache {
			return nil, fmt.Errorf("fetch %s: 304 without a cached body", Redact(raw))
		}
		return cached.body, nil
	default:
		return nil, fmt.Errorf("fetch %s: unexpected status %s", Redact(raw), resp.Status)
	}
}

func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	if info.Size() > MaxBodyBytes {
		return nil, fmt.Errorf("read source %s: file exceeds %d bytes", path, MaxBodyBytes)
	}
	return os.ReadFile(path)
}

// Redact keeps only the scheme and host of a feed URL, since private feed
// URLs usually embed a token.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/(redacted)"
}
