// Package storage provides the sources GeoPackages are fetched from: a local
// directory, S3, Azure Blob Storage or a plain HTTP server.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jobrunner/gpkgindex/internal/domain"
	"github.com/jobrunner/gpkgindex/internal/ports/output"
)

// PackageExt is the file extension of GeoPackages.
const PackageExt = ".gpkg"

// IsPackage reports whether name is a GeoPackage file name. Side store files
// and partial downloads never match.
func IsPackage(name string) bool {
	return strings.EqualFold(filepath.Ext(name), PackageExt)
}

// Config selects and configures the package source.
type Config struct {
	Type      output.StorageType
	LocalPath string
	S3        S3Config
	Azure     AzureConfig
	HTTP      HTTPConfig
}

// New creates the source selected by cfg.Type.
func New(ctx context.Context, cfg Config) (output.ObjectStorage, error) {
	switch cfg.Type {
	case output.StorageTypeLocal, "":
		return NewLocalStorage(cfg.LocalPath), nil
	case output.StorageTypeS3:
		return NewS3Storage(ctx, cfg.S3)
	case output.StorageTypeAzure:
		return NewAzureStorage(cfg.Azure)
	case output.StorageTypeHTTP:
		return NewHTTPStorage(cfg.HTTP), nil
	default:
		return nil, fmt.Errorf("%w: unknown storage type %q", domain.ErrInvalidInput, cfg.Type)
	}
}

// relativeKey strips prefix and a leading slash from an object key.
func relativeKey(key, prefix string) string {
	return strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
}

// prefixedKey returns the object key of key below prefix.
func prefixedKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimSuffix(prefix, "/") + "/" + key
}

// writeFile streams r to dest through a temporary file in the destination
// directory. The rename makes the package appear in one step, so a watcher
// never reindexes a half written file.
func writeFile(dest string, r io.Reader) (err error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, r); err != nil {
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

func storageError(op, key string, err error) error {
	return &domain.StorageError{Operation: op, Key: key, Err: err}
}
