package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jobrunner/gpkgindex/internal/ports/output"
)

// Defaults of the HTTP source.
const (
	DefaultIndexFile   = "index.txt"
	DefaultHTTPTimeout = 5 * time.Minute
)

// HTTPStorage serves packages from a web server. The server publishes an
// index file listing one package path per line.
type HTTPStorage struct {
	client    *http.Client
	baseURL   string
	indexFile string
	username  string
	password  string
}

// HTTPConfig holds HTTP storage configuration.
type HTTPConfig struct {
	BaseURL   string
	IndexFile string
	Timeout   time.Duration
	Username  string
	Password  string
}

// NewHTTPStorage creates a new HTTP storage adapter.
func NewHTTPStorage(cfg HTTPConfig) *HTTPStorage {
	if cfg.IndexFile == "" {
		cfg.IndexFile = DefaultIndexFile
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPTimeout
	}

	return &HTTPStorage{
		client:    &http.Client{Timeout: cfg.Timeout},
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		indexFile: cfg.IndexFile,
		username:  cfg.Username,
		password:  cfg.Password,
	}
}

// List reads the index file.
func (s *HTTPStorage) List(ctx context.Context) ([]output.StorageObject, error) {
	body, err := s.get(ctx, http.MethodGet, s.indexFile)
	if err != nil {
		return nil, storageError("list", s.indexFile, err)
	}
	defer func() { _ = body.Close() }()

	objects, err := parseIndex(body)
	if err != nil {
		return nil, storageError("list", s.indexFile, err)
	}
	return objects, nil
}

// parseIndex parses an index file. Blank lines, comments and entries that
// are not packages are skipped.
func parseIndex(r io.Reader) ([]output.StorageObject, error) {
	var objects []output.StorageObject
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || !IsPackage(line) {
			continue
		}
		objects = append(objects, output.StorageObject{Key: strings.TrimPrefix(line, "/")})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading index file: %w", err)
	}
	return objects, nil
}

// Download downloads a package to dest.
func (s *HTTPStorage) Download(ctx context.Context, key string, dest string) error {
	body, err := s.GetReader(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	if err := writeFile(dest, body); err != nil {
		return storageError("download", key, err)
	}
	return nil
}

// GetReader returns a reader for the given file.
func (s *HTTPStorage) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	body, err := s.get(ctx, http.MethodGet, key)
	if err != nil {
		return nil, storageError("download", key, err)
	}
	return body, nil
}

// Exists sends a HEAD request for the file.
func (s *HTTPStorage) Exists(ctx context.Context, key string) (bool, error) {
	body, err := s.get(ctx, http.MethodHead, key)
	if err == nil {
		_ = body.Close()
		return true, nil
	}
	var statusErr *statusError
	if errors.As(err, &statusErr) && statusErr.code == http.StatusNotFound {
		return false, nil
	}
	return false, storageError("stat", key, err)
}

type statusError struct {
	code int
	url  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d for %s", e.code, e.url)
}

// get requests path relative to the base URL and returns the body of a 200
// response.
func (s *HTTPStorage) get(ctx context.Context, method, path string) (io.ReadCloser, error) {
	url := s.baseURL + "/" + strings.TrimPrefix(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	if s.username != "" && s.password != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, &statusError{code: resp.StatusCode, url: url}
	}
	return resp.Body, nil
}
