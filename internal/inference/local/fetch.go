package local

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Fetcher reads a model file from a location.
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// DefaultFetcher reads http(s) URLs, file:// URLs and plain filesystem paths.
type DefaultFetcher struct {
	Client *http.Client
}

// Fetch implements Fetcher.
func (f *DefaultFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain path (a one-letter scheme is a Windows drive).
		return readFile(ctx, location)
	}

	switch u.Scheme {
	case "file":
		return readFile(ctx, u.Path)
	case "http", "https":
		return f.fetchHTTP(ctx, location)
	default:
		return nil, &FetchError{Location: location, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
}

func (f *DefaultFetcher) fetchHTTP(ctx context.Context, location string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, &FetchError{Location: location, Err: err}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{Location: location, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Location: location, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Location: location, Err: err}
	}
	return data, nil
}

func readFile(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Location: p, Err: err}
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, &FetchError{Location: p, Err: err}
	}
	return data, nil
}

// ResolveLocation resolves a shard path relative to the manifest location.
func ResolveLocation(manifest, rel string) string {
	if u, err := url.Parse(rel); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		return rel
	}

	if base, err := url.Parse(manifest); err == nil && base.Scheme != "" && len(base.Scheme) > 1 {
		if base.Scheme == "file" {
			return "file://" + path.Join(path.Dir(base.Path), rel)
		}
		ref, err := url.Parse(rel)
		if err != nil {
			return rel
		}
		return base.ResolveReference(ref).String()
	}

	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(filepath.Dir(manifest), filepath.FromSlash(strings.TrimPrefix(rel, "./")))
}
