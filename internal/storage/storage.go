// Package storage archives generated content for paid users, on the local
// filesystem in development and on Cloudflare R2 in production.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Storage is a flat key/value object store.
type Storage interface {
	// Put fails with ErrKeyExists when key is taken and opts.Overwrite is unset.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error
	// Get fails with ErrNotFound for a missing key. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	// Delete of a missing key succeeds.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

type PutOptions struct {
	ContentType string // detected from the key when empty
	MaxSize     int64  // 0 disables the limit
	Overwrite   bool
}

type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	ETag         string // R2 only
}

// Provider names accepted by New.
const (
	ProviderLocal = "local"
	ProviderR2    = "r2"
)

type Config struct {
	Provider string
	Local    LocalConfig
	R2       R2Config
}

type LocalConfig struct {
	BasePath string // e.g. /var/lib/aptix/history
}

// R2Config configures the S3-compatible client. Endpoint, when set,
// replaces the one derived from AccountID.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Endpoint        string
	Region          string // "auto" when empty
}

// New creates the storage provider named in cfg.
func New(cfg Config, logger *slog.Logger) (Storage, error) {
	switch cfg.Provider {
	case ProviderLocal, "":
		return NewLocalStorage(cfg.Local, logger)
	case ProviderR2:
		return NewR2Storage(cfg.R2, logger)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}

// HistoryKey returns history/{userID}/{entryID}.md with the opaque user ID
// path-escaped.
func HistoryKey(userID string, entryID uuid.UUID) string {
	return fmt.Sprintf("history/%s/%s.md", url.PathEscape(userID), entryID)
}

// DetectContentType maps a key's extension to a MIME type.
func DetectContentType(key string) string {
	switch ext := strings.ToLower(filepath.Ext(key)); ext {
	case ".md":
		return "text/markdown; charset=utf-8"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}

// validateKey rejects empty keys and path traversal attempts.
func validateKey(key string) error {
	if key == "" || strings.Contains(key, "..") {
		return ErrInvalidKey
	}
	return nil
}
