package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	dirPerm       = 0o755
	tempPutPrefix = ".put-"
)

// LocalStorage keeps archived objects on the local filesystem. Each Put
// writes a temporary file beside the target and renames it into place, so
// readers never see a partial object.
type LocalStorage struct {
	root   string
	logger *slog.Logger
}

// NewLocalStorage creates the root directory if needed.
func NewLocalStorage(cfg LocalConfig, logger *slog.Logger) (*LocalStorage, error) {
	root, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root %q: %w", cfg.BasePath, err)
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	logger.Info("local object storage ready", "root", root)
	return &LocalStorage{root: root, logger: logger}, nil
}

func (s *LocalStorage) Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error {
	path, err := s.locate(ctx, opPut, key)
	if err != nil {
		return err
	}
	if !opts.Overwrite {
		if _, err := os.Stat(path); err == nil {
			return opError(opPut, key, ErrKeyExists)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return opError(opPut, key, err)
	}
	tmp, err := os.CreateTemp(dir, tempPutPrefix+"*")
	if err != nil {
		return opError(opPut, key, err)
	}
	// Removing after a successful rename fails harmlessly.
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, limitReader(data, opts.MaxSize))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	switch {
	case err != nil:
		return opError(opPut, key, fmt.Errorf("write object: %w", err))
	case opts.MaxSize > 0 && n > opts.MaxSize:
		return opError(opPut, key, ErrTooLarge)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return opError(opPut, key, err)
	}
	s.logger.Debug("object stored", "key", key, "bytes", n)
	return nil
}

func (s *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	path, err := s.locate(ctx, opGet, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ObjectInfo{}, opError(opGet, key, ErrNotFound)
	}
	if err != nil {
		return nil, ObjectInfo{}, opError(opGet, key, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ObjectInfo{}, opError(opGet, key, err)
	}

	info := ObjectInfo{
		Key:          key,
		Size:         fi.Size(),
		ContentType:  DetectContentType(key),
		LastModified: fi.ModTime(),
	}
	return f, info, nil
}

// Delete succeeds when the object is already gone.
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	path, err := s.locate(ctx, opDelete, key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return opError(opDelete, key, err)
	}
	return nil
}

func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	path, err := s.locate(ctx, opExists, key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, opError(opExists, key, err)
	}
}

// locate checks ctx and maps key to a path under the root. Keys that
// escape the root are rejected with ErrInvalidKey.
func (s *LocalStorage) locate(ctx context.Context, op, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateKey(key); err != nil {
		return "", opError(op, key, err)
	}
	path := filepath.Join(s.root, filepath.Clean(key))
	if !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return "", opError(op, key, ErrInvalidKey)
	}
	return path, nil
}

// limitReader reads one byte past max so oversized input can be detected.
func limitReader(r io.Reader, max int64) io.Reader {
	if max <= 0 {
		return r
	}
	return io.LimitReader(r, max+1)
}
