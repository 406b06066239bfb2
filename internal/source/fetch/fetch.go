// Package fetch turns an import location into a local Zarr store directory.
//
// Supported locations:
//   - a local directory holding zarr.json
//   - a local .tar, .tar.gz, .tgz or .tar.zst archive of such a directory
//   - s3://bucket/key pointing at an archive (bucket may be empty for the default)
//   - http:// or https:// URLs pointing at an archive
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/timmy/kmap/internal/logger"
	"github.com/timmy/kmap/internal/storage"
)

const storeMarker = "zarr.json"

// ErrNoStore is returned when a location holds no Zarr store.
var ErrNoStore = errors.New("no zarr store found")

// Local is a fetched store ready to open.
type Local struct {
	// Path is the Zarr store root directory.
	Path string
	// Filename is the last element of the original location.
	Filename string

	cleanup func() error
}

// Close removes any temporary files made while fetching.
func (l *Local) Close() error {
	if l.cleanup == nil {
		return nil
	}
	return l.cleanup()
}

// Resolver fetches import sources.
type Resolver struct {
	workDir string
	storage storage.ObjectStorage
	client  *resty.Client
}

// NewResolver creates a resolver. store may be nil, which disables s3:// sources.
func NewResolver(workDir string, store storage.ObjectStorage, timeout time.Duration) *Resolver {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(2)
	client.SetHeader("User-Agent", "kmap-import")

	return &Resolver{
		workDir: workDir,
		storage: store,
		client:  client,
	}
}

// Resolve makes location available on the local filesystem.
func (r *Resolver) Resolve(ctx context.Context, location string) (*Local, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("empty import location")
	}

	switch {
	case strings.HasPrefix(location, "s3://"):
		return r.fromStorage(ctx, location)
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return r.fromHTTP(ctx, location)
	default:
		return r.fromPath(ctx, location)
	}
}

func (r *Resolver) fromPath(ctx context.Context, location string) (*Local, error) {
	info, err := os.Stat(location)
	if err != nil {
		return nil, fmt.Errorf("import source %s: %w", location, err)
	}
	name := filepath.Base(location)

	if info.IsDir() {
		root, err := findStore(location)
		if err != nil {
			return nil, err
		}
		return &Local{Path: root, Filename: name}, nil
	}

	f, err := os.Open(location)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", location, err)
	}
	defer f.Close()
	return r.extract(ctx, f, name)
}

func (r *Resolver) fromStorage(ctx context.Context, location string) (*Local, error) {
	if r.storage == nil {
		return nil, fmt.Errorf("object storage is not configured, cannot fetch %s", location)
	}
	bucket, key, err := storage.ParseURL(location)
	if err != nil {
		return nil, err
	}

	logger.CtxInfo(ctx, "Downloading import source from s3: bucket=%q key=%s", bucket, key)
	body, err := r.storage.Download(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return r.extract(ctx, body, path.Base(key))
}

func (r *Resolver) fromHTTP(ctx context.Context, location string) (*Local, error) {
	logger.CtxInfo(ctx, "Downloading import source: url=%s", location)
	resp, err := r.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(location)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", location, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("failed to download %s: status %d", location, resp.StatusCode())
	}

	name := path.Base(strings.SplitN(location, "?", 2)[0])
	return r.extract(ctx, body, name)
}

// extract unpacks an archive stream into a fresh directory under the work dir.
func (r *Resolver) extract(ctx context.Context, src io.Reader, name string) (*Local, error) {
	if err := os.MkdirAll(r.workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	dir, err := os.MkdirTemp(r.workDir, "import-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	cleanup := func() error { return os.RemoveAll(dir) }

	start := time.Now()
	n, err := Untar(src, dir)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to extract %s: %w", name, err)
	}

	root, err := findStore(dir)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	logger.With(logger.Fields{logger.FieldSource: name}).
		WithCount(n).
		WithDuration(start).
		Info(ctx, "Extracted import archive")

	return &Local{Path: root, Filename: name, cleanup: cleanup}, nil
}

// findStore returns dir when it is a store root, else its single child store.
func findStore(dir string) (string, error) {
	if isStore(dir) {
		return dir, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var found []string
	for _, e := range entries {
		if e.IsDir() && isStore(filepath.Join(dir, e.Name())) {
			found = append(found, filepath.Join(dir, e.Name()))
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return "", fmt.Errorf("%w in %s", ErrNoStore, dir)
	default:
		return "", fmt.Errorf("%d zarr stores found in %s, expected one", len(found), dir)
	}
}

func isStore(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, storeMarker))
	return err == nil && !info.IsDir()
}
