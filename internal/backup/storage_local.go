package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalObjectStore maps file://bucket/key onto <base>/bucket/key.
// Used for development and for restoring from mounted volumes.
type LocalObjectStore struct {
	basePath string
}

// NewLocalObjectStore creates a store rooted at config.BasePath
func NewLocalObjectStore(config *LocalConfig) (*LocalObjectStore, error) {
	if config == nil || config.BasePath == "" {
		return nil, NewValidationError("local storage base path is required", nil)
	}
	abs, err := filepath.Abs(config.BasePath)
	if err != nil {
		return nil, NewStorageError("failed to resolve local base path", err)
	}
	return &LocalObjectStore{basePath: abs}, nil
}

func (l *LocalObjectStore) path(bucket, key string) (string, error) {
	p := filepath.Join(l.basePath, bucket, filepath.FromSlash(key))
	if p != l.basePath && !strings.HasPrefix(p, l.basePath+string(os.PathSeparator)) {
		return "", NewValidationError(fmt.Sprintf("path %s/%s escapes storage root", bucket, key), nil)
	}
	return p, nil
}

// Stat returns file size and modification time
func (l *LocalObjectStore) Stat(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	p, err := l.path(bucket, key)
	if err != nil {
		return ObjectInfo{}, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ObjectInfo{}, NewNotFoundError(fmt.Sprintf("file://%s/%s not found", bucket, key), err)
		}
		return ObjectInfo{}, NewStorageError("failed to stat local artifact", err)
	}
	if fi.IsDir() {
		return ObjectInfo{}, NewNotFoundError(fmt.Sprintf("file://%s/%s is a directory", bucket, key), nil)
	}
	return ObjectInfo{Location: key, Size: fi.Size(), CreatedAt: fi.ModTime()}, nil
}

// List walks the bucket directory and keeps files whose key starts with prefix
func (l *LocalObjectStore) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	root, err := l.path(bucket, "")
	if err != nil {
		return nil, err
	}

	var objects []ObjectInfo
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, ObjectInfo{Location: key, Size: info.Size(), CreatedAt: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, NewStorageError(fmt.Sprintf("failed to list file://%s/%s", bucket, prefix), err)
	}
	return objects, nil
}

// Open opens the file for reading
func (l *LocalObjectStore) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	p, err := l.path(bucket, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NewNotFoundError(fmt.Sprintf("file://%s/%s not found", bucket, key), err)
		}
		return nil, NewStorageError("failed to open local artifact", err)
	}
	return f, nil
}

// Close is a no-op
func (l *LocalObjectStore) Close() error { return nil }
