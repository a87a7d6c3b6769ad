package dataset

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Source opens the raw CSV stream of the district dataset
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	// Kind labels the source in logs and metrics ("file", "http")
	Kind() string
	String() string
}

// FileSource reads the dataset from the local filesystem
type FileSource struct {
	Path string
}

// Open opens the file
func (s FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Clean(s.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	return f, nil
}

func (s FileSource) Kind() string   { return "file" }
func (s FileSource) String() string { return s.Path }

// HTTPSource downloads the dataset with a GET request
type HTTPSource struct {
	URL    string
	Client *http.Client
}

// Open issues the GET and returns the response body
func (s HTTPSource) Open(ctx context.Context) (io.ReadCloser, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build dataset request: %w", err)
	}
	req.Header.Set("Accept", "text/csv")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download dataset: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to download dataset: %s", resp.Status)
	}
	return resp.Body, nil
}

func (s HTTPSource) Kind() string   { return "http" }
func (s HTTPSource) String() string { return s.URL }

// ParseSource turns a configured URI into a Source. Bare paths and file://
// URIs read from disk; http and https URLs are fetched with client.
func ParseSource(uri string, client *http.Client) (Source, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, fmt.Errorf("empty dataset source")
	}

	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// single-letter schemes are Windows drive letters
		return FileSource{Path: uri}, nil
	}

	switch u.Scheme {
	case "file":
		return FileSource{Path: u.Path}, nil
	case "http", "https":
		return HTTPSource{URL: uri, Client: client}, nil
	default:
		return nil, fmt.Errorf("unsupported dataset source scheme %q", u.Scheme)
	}
}
